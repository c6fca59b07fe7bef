package stt

import (
	"context"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
)

// OpenStream starts a streaming-recognize session. The first message carries
// the config; voice activity events map to speech_started / utterance_end.
func (g *GoogleSpeech) OpenStream(ctx context.Context, language string) (LiveStream, error) {
	if language == "" {
		language = "en-US"
	}

	stream, err := g.c.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   g.Encoding,
					SampleRateHertz:            g.SampleRateHz,
					LanguageCode:               language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults:            true,
				EnableVoiceActivityEvents: true,
			},
		},
	}
	if err := stream.Send(cfg); err != nil {
		_ = stream.CloseSend()
		return nil, err
	}

	return &googleLiveStream{stream: stream}, nil
}

type googleLiveStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleLiveStream) Send(audio []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (s *googleLiveStream) CloseSend() error { return s.stream.CloseSend() }

func (s *googleLiveStream) Recv() (*LiveEvent, error) {
	for {
		resp, err := s.stream.Recv()
		if err != nil {
			return nil, err
		}

		switch resp.SpeechEventType {
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_BEGIN:
			return &LiveEvent{Type: LiveSpeechStarted}, nil
		case speechpb.StreamingRecognizeResponse_SPEECH_ACTIVITY_END:
			return &LiveEvent{Type: LiveUtteranceEnd}, nil
		}

		for _, res := range resp.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			alt := res.Alternatives[0]
			if alt.Transcript == "" {
				continue
			}
			return &LiveEvent{
				Type:       LiveTranscript,
				Text:       alt.Transcript,
				IsFinal:    res.IsFinal,
				Confidence: float64(alt.Confidence),
			}, nil
		}
		// keepalive or empty response; wait for the next one
	}
}
