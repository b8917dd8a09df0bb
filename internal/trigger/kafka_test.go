package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/pendingpush/internal/dispatcher"
	"github.com/segmentio/kafka-go"
)

// fakeReader は用意したメッセージを返し、尽きたらctxの終了まで待つコンシューマー。
type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestKafkaSource_Run(t *testing.T) {
	t.Parallel()

	t.Run("正常系_解釈できないメッセージを読み飛ばして全件コミットする", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{messages: []kafka.Message{
			{Offset: 1, Key: []byte("N1"), Value: []byte(`{"fcmToken":"tok","title":"t","body":"b"}`)},
			{Offset: 2, Key: []byte("N2"), Value: []byte(`{broken`)},
			{Offset: 3, Key: []byte("N3"), Value: nil},
		}}
		ctx, cancel := context.WithCancel(context.Background())
		c := &collector{}
		done := make(chan error, 1)
		go func() { done <- NewKafkaSource(reader, nil).Run(ctx, c.emit) }()

		waitFor(t, func() bool {
			reader.mu.Lock()
			defer reader.mu.Unlock()
			return len(reader.committed) == 3
		})
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Runがエラーを返した: %v", err)
		}

		got := c.snapshot()
		if len(got) != 2 {
			t.Fatalf("イベント数 = %d, want 2", len(got))
		}
		if got[0].NotificationID != "N1" || got[0].Data == nil {
			t.Errorf("1件目 = %+v", got[0])
		}
		if got[1].NotificationID != "N3" || got[1].Data != nil {
			t.Errorf("2件目 = %+v, want Dataがnilの N3", got[1])
		}
		if !reader.closed {
			t.Error("コンシューマーが閉じられていない")
		}
	})
}

func TestKafkaSource_CommitAfterInvocation(t *testing.T) {
	t.Parallel()

	t.Run("正常系_呼び出しが終わるまでコミットせず取得順にコミットする", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{messages: []kafka.Message{
			{Offset: 1, Key: []byte("N1"), Value: []byte(`{"title":"a"}`)},
			{Offset: 2, Key: []byte("N2"), Value: []byte(`{"title":"b"}`)},
		}}

		var mu sync.Mutex
		finish := map[string]chan struct{}{}
		emit := func(ev dispatcher.Event) <-chan struct{} {
			mu.Lock()
			defer mu.Unlock()
			ch := make(chan struct{})
			finish[ev.NotificationID] = ch
			return ch
		}
		finishOf := func(id string) chan struct{} {
			mu.Lock()
			defer mu.Unlock()
			return finish[id]
		}
		committed := func() []int64 {
			reader.mu.Lock()
			defer reader.mu.Unlock()
			return append([]int64(nil), reader.committed...)
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewKafkaSource(reader, nil).Run(ctx, emit) }()

		waitFor(t, func() bool { return finishOf("N1") != nil && finishOf("N2") != nil })

		// 後のメッセージが先に終わっても、前のメッセージが終わるまではコミットしない
		close(finishOf("N2"))
		time.Sleep(20 * time.Millisecond)
		if got := committed(); len(got) != 0 {
			t.Fatalf("呼び出し中にコミットされた: %v", got)
		}

		close(finishOf("N1"))
		waitFor(t, func() bool { return len(committed()) == 2 })
		if got := committed(); got[0] != 1 || got[1] != 2 {
			t.Errorf("コミット順 = %v, want [1 2]", got)
		}

		cancel()
		if err := <-done; err != nil {
			t.Errorf("Runがエラーを返した: %v", err)
		}
	})

	t.Run("正常系_停止時は実行中の呼び出しの完了を待ってからコミットする", func(t *testing.T) {
		t.Parallel()

		reader := &fakeReader{messages: []kafka.Message{
			{Offset: 7, Key: []byte("N1"), Value: []byte(`{"title":"a"}`)},
		}}
		started := make(chan struct{})
		finish := make(chan struct{})
		emit := func(dispatcher.Event) <-chan struct{} {
			close(started)
			return finish
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewKafkaSource(reader, nil).Run(ctx, emit) }()

		<-started
		cancel()
		select {
		case <-done:
			t.Fatal("実行中の呼び出しを待たずにRunが戻った")
		case <-time.After(20 * time.Millisecond):
		}

		close(finish)
		if err := <-done; err != nil {
			t.Errorf("Runがエラーを返した: %v", err)
		}
		reader.mu.Lock()
		defer reader.mu.Unlock()
		if len(reader.committed) != 1 || reader.committed[0] != 7 {
			t.Errorf("committed = %v, want [7]", reader.committed)
		}
		if !reader.closed {
			t.Error("コンシューマーが閉じられていない")
		}
	})
}

func TestDecodeMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       kafka.Message
		wantData  bool
		wantError bool
	}{
		{name: "正常系_JSONオブジェクト", msg: kafka.Message{Key: []byte("N1"), Value: []byte(`{"title":"x","n":1}`)}, wantData: true},
		{name: "境界値_nullはスナップショットなし", msg: kafka.Message{Key: []byte("N1"), Value: []byte(`null`)}},
		{name: "境界値_空の値はスナップショットなし", msg: kafka.Message{Key: []byte("N1"), Value: []byte("  ")}},
		{name: "異常系_キーが空", msg: kafka.Message{Value: []byte(`{}`)}, wantError: true},
		{name: "異常系_オブジェクト以外", msg: kafka.Message{Key: []byte("N1"), Value: []byte(`[1]`)}, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ev, err := decodeMessage(tt.msg)
			if tt.wantError {
				if err == nil {
					t.Error("エラーが返されなかった")
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if ev.NotificationID != "N1" {
				t.Errorf("NotificationID = %s, want N1", ev.NotificationID)
			}
			if (ev.Data != nil) != tt.wantData {
				t.Errorf("Data = %v, wantData %v", ev.Data, tt.wantData)
			}
		})
	}
}

var _ MessageReader = (*kafka.Reader)(nil)
