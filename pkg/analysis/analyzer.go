package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/types"
	"github.com/vango-go/vai-converse/pkg/store"
)

// RecentSessions is how many of the latest sessions feed one analysis.
const RecentSessions = 5

const (
	analysisPrompt = "You are an expert conversation analyst. Analyze the provided chat transcript and return ONLY a JSON object " +
		"with the following fields: topics (array of strings), sentimentScore (number between 0 and 1), " +
		"complexity (string: 'beginner', 'intermediate', or 'expert'), and userType (string describing user's communication style)."

	suggestionsPrompt = "You are an expert coach. Based on the chat analysis, provide 3 specific and actionable suggestions " +
		"to help the user improve their conversational skills. Return ONLY a JSON object of the form " +
		`{"suggestions": ["suggestion1", "suggestion2", "suggestion3"]}`

	maxSuggestions = 3
)

// Result is the outcome of one analysis.
type Result struct {
	Profile     types.ConversationProfile `json:"metrics"`
	Suggestions []string                  `json:"suggestions"`
}

// Analyzer derives a profile from a user's recent sessions and stores it.
type Analyzer struct {
	store    store.Store
	provider core.Provider
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(st store.Store, provider core.Provider, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: st, provider: provider, logger: logger, now: time.Now}
}

// Run analyses userID and discards the result. It is the pool's RunFunc.
func (a *Analyzer) Run(ctx context.Context, userID string) error {
	_, err := a.Analyze(ctx, userID)
	return err
}

// Analyze computes and persists a fresh profile for userID.
func (a *Analyzer) Analyze(ctx context.Context, userID string) (*Result, error) {
	if _, err := a.store.GetUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NewNotFoundError("user not found")
		}
		return nil, err
	}

	sessions, err := a.store.ListSessions(ctx, store.SessionFilter{
		UserID:   userID,
		Statuses: []types.SessionStatus{types.SessionActive, types.SessionCompleted},
		Limit:    RecentSessions,
	})
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, core.NewNotFoundError("no chat sessions found")
	}

	transcript := Transcript(sessions)
	raw, err := a.provider.CompleteJSON(ctx, analysisPrompt,
		"Please analyze this chat transcript and provide the JSON object as instructed:\n\n"+transcript)
	if err != nil {
		return nil, err
	}
	findings, err := parseFindings(raw)
	if err != nil {
		return nil, err
	}

	summary, err := sonic.MarshalString(findings)
	if err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}
	raw, err = a.provider.CompleteJSON(ctx, suggestionsPrompt,
		"Based on this analysis, provide 3 improvement suggestions. Focus on the latest topics discussed, "+
			"especially any complex or sensitive topics:\n\n"+summary)
	if err != nil {
		return nil, err
	}
	suggestions, err := parseSuggestions(raw)
	if err != nil {
		return nil, err
	}

	total := 0
	for _, s := range sessions {
		total += s.UserMessageCount()
	}
	result := &Result{
		Profile: types.ConversationProfile{
			Topics:         findings.Topics,
			SentimentScore: findings.SentimentScore,
			Complexity:     findings.Complexity,
			UserType:       findings.UserType,
			TotalMessages:  total,
			AvgChatLength:  float64(total) / float64(len(sessions)),
			LastUpdated:    a.now(),
		},
		Suggestions: suggestions,
	}

	if _, err := a.store.UpdateUser(ctx, userID, func(u *types.User) error {
		u.Profile = result.Profile
		u.Suggestions = append([]string(nil), result.Suggestions...)
		return nil
	}); err != nil {
		return nil, core.NewPersistenceError("profile update", err)
	}
	return result, nil
}

// Transcript renders sessions in the order given.
func Transcript(sessions []*types.Session) string {
	var b strings.Builder
	for _, s := range sessions {
		fmt.Fprintf(&b, "=== Session %s ===\n", s.ID)
		for _, m := range s.Messages {
			role := "AI"
			if m.From == types.OriginUser {
				role = "User"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, m.Text)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type findings struct {
	Topics         []string         `json:"topics"`
	SentimentScore float64          `json:"sentimentScore"`
	Complexity     types.Complexity `json:"complexity"`
	UserType       string           `json:"userType"`
}

func parseFindings(raw string) (findings, error) {
	var f findings
	if err := sonic.UnmarshalString(raw, &f); err != nil {
		return findings{}, core.NewUpstreamError("analysis", fmt.Errorf("decode analysis: %w", err))
	}
	f.Complexity = types.Complexity(strings.ToLower(strings.TrimSpace(string(f.Complexity))))
	if !f.Complexity.Valid() {
		f.Complexity = types.ComplexityBeginner
	}
	f.SentimentScore = min(1, max(0, f.SentimentScore))
	if f.Topics == nil {
		f.Topics = []string{}
	}
	return f, nil
}

// parseSuggestions accepts a bare array or an object with a suggestions field.
func parseSuggestions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	var list []string
	if strings.HasPrefix(raw, "[") {
		if err := sonic.UnmarshalString(raw, &list); err != nil {
			return nil, core.NewUpstreamError("analysis", fmt.Errorf("decode suggestions: %w", err))
		}
	} else {
		var wrapped struct {
			Suggestions []string `json:"suggestions"`
		}
		if err := sonic.UnmarshalString(raw, &wrapped); err != nil {
			return nil, core.NewUpstreamError("analysis", fmt.Errorf("decode suggestions: %w", err))
		}
		list = wrapped.Suggestions
	}

	out := make([]string, 0, maxSuggestions)
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}
