package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type bytesSink struct {
	bytes int64
}

func (s *bytesSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		s.bytes += evt.Bytes
	}
	return nil
}

func (s *bytesSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals downloaded bytes from fetch events.
func ExampleHub_Emit() {
	sink := &bytesSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)

	hub.Emit(Event{
		RunID:       uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Stage:       StageFetchDone,
		Host:        "https://habr.com",
		URL:         "https://habr.com/ru/articles/1/",
		StatusClass: Status2xx,
		Bytes:       512,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("bytes downloaded: %d\n", sink.bytes)
	// Output:
	// bytes downloaded: 512
}
