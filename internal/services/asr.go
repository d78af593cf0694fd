package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/storyreel/worker/internal/models"
)

// ASRService passes audio through to the hosted Whisper model and returns
// segment-level timestamps. Constructed once at startup and injected; there
// is no ambient client.
type ASRService struct {
	client *openai.Client
}

func NewASRService(apiKey string) *ASRService {
	return &ASRService{client: openai.NewClient(apiKey)}
}

// Transcribe sends the local audio file to the transcription model.
func (s *ASRService) Transcribe(ctx context.Context, audioPath, language string) (*models.TranscribeResponse, error) {
	if language == "" {
		language = "pt"
	}

	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: language,
	})
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	segments := make([]models.TranscriptSegment, 0, len(resp.Segments))
	var full []string
	for _, seg := range resp.Segments {
		text := strings.TrimSpace(seg.Text)
		segments = append(segments, models.TranscriptSegment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
		full = append(full, text)
	}

	log.Printf("[ASR] transcribed %d segments (language=%s, duration=%.1fs)", len(segments), resp.Language, resp.Duration)

	return &models.TranscribeResponse{
		Language: resp.Language,
		Duration: resp.Duration,
		Text:     strings.Join(full, " "),
		Segments: segments,
	}, nil
}
