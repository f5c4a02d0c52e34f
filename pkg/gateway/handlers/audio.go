package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vango-go/vai-converse/pkg/core"
	"github.com/vango-go/vai-converse/pkg/core/voice/stt"
	"github.com/vango-go/vai-converse/pkg/core/voice/tts"
	"github.com/vango-go/vai-converse/pkg/gateway/config"
)

const multipartMemory = 8 << 20

// AudioHandler serves the standalone speech utilities.
type AudioHandler struct {
	Config config.Config
	STT    stt.Provider
	TTS    tts.Provider
	Logger *slog.Logger
}

// Transcribe handles POST /v1/audio/transcriptions with a multipart "audio" file.
func (h AudioHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if h.STT == nil {
		writeError(w, r, h.Logger, core.NewInvalidRequestError("transcription is not available"))
		return
	}

	if h.Config.MaxAudioBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxAudioBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("audio file too large", "audio"))
			return
		}
		writeError(w, r, h.Logger, core.NewInvalidRequestError("request must be multipart/form-data"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("no audio file provided", "audio"))
		return
	}
	defer file.Close()

	ctx, cancel := h.speechContext(r.Context())
	defer cancel()
	tr, err := h.STT.Transcribe(ctx, file, stt.TranscribeOptions{
		Format:   stt.FormatFromFilename(header.Filename),
		Language: strings.TrimSpace(r.FormValue("language")),
	})
	if err != nil {
		writeError(w, r, h.Logger, speechError(r.Context(), "transcription", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": tr.Text})
}

type speechRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Speak handles POST /v1/audio/speech and answers with MP3 bytes.
func (h AudioHandler) Speak(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireUser(w, r); !ok {
		return
	}
	if h.TTS == nil {
		writeError(w, r, h.Logger, core.NewInvalidRequestError("speech synthesis is not available"))
		return
	}
	var body speechRequest
	if err := readJSON(w, r, h.Config.MaxBodyBytes, &body); err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		writeError(w, r, h.Logger, core.NewInvalidRequestErrorWithParam("text is required", "text"))
		return
	}
	voiceName := strings.TrimSpace(body.Voice)
	if voiceName == "" {
		voiceName = h.Config.DefaultVoice
	}
	if voiceName == "" {
		voiceName = tts.DefaultVoice
	}

	ctx, cancel := h.speechContext(r.Context())
	defer cancel()
	syn, err := h.TTS.Synthesize(ctx, body.Text, tts.SynthesizeOptions{Voice: voiceName, Format: "mp3"})
	if err != nil {
		writeError(w, r, h.Logger, speechError(r.Context(), "speech", err))
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(syn.Audio)
}

func (h AudioHandler) speechContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.Config.SpeechTimeout > 0 {
		return context.WithTimeout(ctx, h.Config.SpeechTimeout)
	}
	return context.WithCancel(ctx)
}

// speechError keeps cancellation silent and wraps everything else as an
// upstream failure.
func speechError(reqCtx context.Context, service string, err error) error {
	if reqCtx.Err() != nil {
		return reqCtx.Err()
	}
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return err
	}
	return core.NewUpstreamError(service, err)
}
