package store

import (
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/nao1215/pendingpush/pkg/record"
)

func TestToUpdates(t *testing.T) {
	t.Parallel()

	t.Run("正常系_センチネルがFirestoreの特殊値に変換される", func(t *testing.T) {
		t.Parallel()

		updates := toUpdates(record.DeliveredPatch())
		if len(updates) != 3 {
			t.Fatalf("更新数 = %d, want 3", len(updates))
		}

		got := make(map[string]any, len(updates))
		for _, u := range updates {
			if len(u.FieldPath) != 1 {
				t.Fatalf("FieldPath = %v, want 1要素", u.FieldPath)
			}
			got[u.FieldPath[0]] = u.Value
		}
		if got[record.FieldDelivered] != true {
			t.Errorf("delivered = %v, want true", got[record.FieldDelivered])
		}
		if got[record.FieldDeliveredAt] != firestore.ServerTimestamp {
			t.Errorf("deliveredAt = %v, want firestore.ServerTimestamp", got[record.FieldDeliveredAt])
		}
		if got[record.FieldError] != firestore.Delete {
			t.Errorf("error = %v, want firestore.Delete", got[record.FieldError])
		}
	})

	t.Run("正常系_キー順に並びドットを含む名前も1要素のパスになる", func(t *testing.T) {
		t.Parallel()

		updates := toUpdates(record.Patch{"b": "x", "a.b": 1})
		if len(updates) != 2 {
			t.Fatalf("更新数 = %d, want 2", len(updates))
		}
		if updates[0].FieldPath[0] != "a.b" || updates[1].FieldPath[0] != "b" {
			t.Errorf("順序 = %v, %v, want a.b, b", updates[0].FieldPath, updates[1].FieldPath)
		}
		if updates[0].Path != "" {
			t.Errorf("Path = %q, want 空", updates[0].Path)
		}
	})
}
