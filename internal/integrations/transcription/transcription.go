package transcription

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

var (
	ErrPlaceholderAudio = errors.New("audio is too short to be a real recording")
	ErrAudioTooLarge    = errors.New("audio exceeds the size limit")
	ErrNoSpeech         = errors.New("no speech recognised")
)

// Recognizer is the part of the Speech-to-Text client the transcriber uses.
type Recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
}

type speechRecognizer struct {
	client *speech.Client
}

func (r *speechRecognizer) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return r.client.Recognize(ctx, req)
}

// Transcriber turns WhatsApp voice notes into text.
type Transcriber struct {
	cfg    model.TranscriptionConfig
	rec    Recognizer
	closer func() error
}

// New connects to Google Speech-to-Text, using the configured service account
// file or application default credentials.
func New(ctx context.Context, cfg model.TranscriptionConfig) (*Transcriber, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	t := NewWithRecognizer(cfg, &speechRecognizer{client: client})
	t.closer = client.Close
	return t, nil
}

func NewWithRecognizer(cfg model.TranscriptionConfig, rec Recognizer) *Transcriber {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "es-ES"
	}
	if cfg.MinAudioBytes <= 0 {
		cfg.MinAudioBytes = 100
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 25 << 20
	}
	return &Transcriber{cfg: cfg, rec: rec}
}

// Transcribe returns the recognised text of one clip.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	text, err := t.transcribe(ctx, audio, mimeType)
	metrics.TranscriptionsTotal.WithLabelValues(metrics.Status(err)).Inc()
	return text, err
}

func (t *Transcriber) transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	switch {
	case len(audio) < t.cfg.MinAudioBytes:
		return "", errx.Validation(ErrPlaceholderAudio.Error())
	case len(audio) > t.cfg.MaxAudioBytes:
		return "", errx.Validation(ErrAudioTooLarge.Error())
	}

	resp, err := t.rec.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: t.recognitionConfig(mimeType),
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	})
	if err != nil {
		logx.Error().Err(err).Str("mime_type", mimeType).Int("bytes", len(audio)).Msg("Speech recognition failed")
		return "", errx.Integration("transcription", err)
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if alts := r.GetAlternatives(); len(alts) > 0 {
			if s := strings.TrimSpace(alts[0].GetTranscript()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if len(parts) == 0 {
		return "", errx.Integration("transcription", ErrNoSpeech)
	}
	return strings.Join(parts, " "), nil
}

func (t *Transcriber) recognitionConfig(mimeType string) *speechpb.RecognitionConfig {
	enc := InferEncoding(mimeType)
	rc := &speechpb.RecognitionConfig{
		Encoding:                   enc,
		LanguageCode:               t.cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
	}
	// WAV and FLAC carry their rate in the header.
	if enc == speechpb.RecognitionConfig_OGG_OPUS || enc == speechpb.RecognitionConfig_WEBM_OPUS {
		rc.SampleRateHertz = t.cfg.SampleRateHertz
	}
	return rc
}

func (t *Transcriber) Close() error {
	if t == nil || t.closer == nil {
		return nil
	}
	return t.closer()
}

// InferEncoding maps a WhatsApp media mime type to a Speech encoding.
func InferEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "ogg"), strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mpeg"), strings.Contains(m, "mp3"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "amr"):
		return speechpb.RecognitionConfig_AMR
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
