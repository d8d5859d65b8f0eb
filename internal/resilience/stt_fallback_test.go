package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/softspoken-ai/dialtone/pkg/provider/stt"
	sttmock "github.com/softspoken-ai/dialtone/pkg/provider/stt/mock"
)

func TestSTTFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}
	backup := &sttmock.Provider{}
	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	sess, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	if len(backup.StartStreamCalls) != 0 {
		t.Errorf("backup was consulted while primary is healthy")
	}
}

func TestSTTFallback_FailsOver(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errBoom}
	backup := &sttmock.Provider{}
	f := NewSTTFallback(primary, "primary", FallbackConfig{})
	f.AddFallback("backup", backup)

	sess, err := f.StartStream(context.Background(), stt.StreamConfig{SampleRate: 16000})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer sess.Close()
	if len(backup.StartStreamCalls) != 1 {
		t.Errorf("backup start calls = %d, want 1", len(backup.StartStreamCalls))
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	f := NewSTTFallback(&sttmock.Provider{StartStreamErr: errBoom}, "primary", FallbackConfig{})
	f.AddFallback("backup", &sttmock.Provider{StartStreamErr: errBoom})

	if _, err := f.StartStream(context.Background(), stt.StreamConfig{}); !errors.Is(err, ErrAllFailed) {
		t.Errorf("error = %v, want ErrAllFailed", err)
	}
}
