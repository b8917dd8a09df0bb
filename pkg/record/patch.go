package record

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Patch はレコードへの部分更新。キーに含まれないフィールドは変更しない。
type Patch map[string]any

// Sentinel はストア側で書き込み時に解決される特殊値。
type Sentinel string

const (
	// ServerTimestamp はストアの時計で解決される日時。クライアントの時計は使わない。
	ServerTimestamp Sentinel = "timestamp"
	// Delete はフィールドを削除する。
	Delete Sentinel = "delete"
)

// sentinelKey はセンチネルをJSONで表すときのキー。
const sentinelKey = ".sv"

// MarshalJSON はセンチネルを {".sv":"timestamp"} の形式でエンコードする。
func (s Sentinel) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{sentinelKey: string(s)})
}

// DeliveredPatch は配信成功時の書き戻し内容を返す。
// 並行する書き込みで失敗状態と混在しないようにerrorフィールドを削除する。
func DeliveredPatch() Patch {
	return Patch{
		FieldDelivered:   true,
		FieldDeliveredAt: ServerTimestamp,
		FieldError:       Delete,
	}
}

// FailedPatch は配信失敗時の書き戻し内容を返す。
// 並行する書き込みで成功状態と混在しないようにdeliveredAtフィールドを削除する。
func FailedPatch(reason string) Patch {
	return Patch{
		FieldDelivered:   false,
		FieldError:       reason,
		FieldDeliveredAt: Delete,
	}
}

// DecodePatch はJSONをPatchにデコードする。センチネルはSentinel型に復元する。
// 数値はjson.Numberとして保持する。
func DecodePatch(data []byte) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("パッチのデシリアライズに失敗: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("パッチはJSONオブジェクトである必要があります")
	}

	patch := make(Patch, len(raw))
	for key, msg := range raw {
		if s, ok := decodeSentinel(msg); ok {
			patch[key] = s
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("フィールド %q のデシリアライズに失敗: %w", key, err)
		}
		patch[key] = v
	}
	return patch, nil
}

// decodeSentinel はmsgがセンチネルのJSON表現であればSentinelを返す。
func decodeSentinel(msg json.RawMessage) (Sentinel, bool) {
	var obj map[string]string
	if err := json.Unmarshal(msg, &obj); err != nil || len(obj) != 1 {
		return "", false
	}
	switch s := Sentinel(obj[sentinelKey]); s {
	case ServerTimestamp, Delete:
		return s, true
	default:
		return "", false
	}
}
