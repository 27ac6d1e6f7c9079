package pgnotify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireMessage is the JSON envelope carried in a NOTIFY payload, grounded
// on the teacher's ssepg.Message.
type wireMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// encodeNotify builds the SQL literal for `NOTIFY "<shard>", '<payload>'`,
// escaping single quotes the way the teacher's writeSQLEscaped does, since
// pgx has no parameterized form of NOTIFY's channel/payload pair.
func encodeNotify(shard string, channel string, data json.RawMessage, maxBytes int) (string, error) {
	compact := &bytes.Buffer{}
	if err := json.Compact(compact, data); err != nil {
		return "", fmt.Errorf("pgnotify: invalid JSON payload: %w", err)
	}

	msg := &bytes.Buffer{}
	msg.WriteString(`{"topic":"`)
	msg.WriteString(channel)
	msg.WriteString(`","data":`)
	msg.Write(compact.Bytes())
	msg.WriteByte('}')

	if msg.Len() > maxBytes {
		return "", fmt.Errorf("pgnotify: payload too large for NOTIFY (%d > %d)", msg.Len(), maxBytes)
	}

	sql := &bytes.Buffer{}
	sql.WriteString(`NOTIFY "`)
	sql.WriteString(shard)
	sql.WriteString(`", '`)
	escapeSQLString(sql, msg.Bytes())
	sql.WriteByte('\'')
	return sql.String(), nil
}

// escapeSQLString doubles single quotes, exactly like the teacher's
// writeSQLEscaped.
func escapeSQLString(dst *bytes.Buffer, b []byte) {
	for {
		i := bytes.IndexByte(b, '\'')
		if i < 0 {
			dst.Write(b)
			return
		}
		dst.Write(b[:i])
		dst.WriteString("''")
		b = b[i+1:]
	}
}
