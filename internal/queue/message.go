package queue

import (
	"fmt"
	"strconv"

	"prize_wheel/internal/notify"
)

// streamValues 把通知拆成 Redis Stream 字段。
func streamValues(msg notify.Message) map[string]interface{} {
	return map[string]interface{}{
		"id":      msg.ID,
		"kind":    string(msg.Kind),
		"to":      msg.To,
		"to_name": msg.ToName,
		"subject": msg.Subject,
		"text":    msg.Text,
		"html":    msg.HTML,
	}
}

// parseStreamMessage 从 Stream 字段还原通知，并做字段校验。
func parseStreamMessage(values map[string]interface{}) (notify.Message, error) {
	var (
		msg notify.Message
		err error
	)
	if msg.ID, err = getStreamString(values, "id"); err != nil {
		return notify.Message{}, err
	}
	kind, err := getStreamString(values, "kind")
	if err != nil {
		return notify.Message{}, err
	}
	msg.Kind = notify.Kind(kind)
	if msg.To, err = getStreamString(values, "to"); err != nil {
		return notify.Message{}, err
	}
	if msg.Subject, err = getStreamString(values, "subject"); err != nil {
		return notify.Message{}, err
	}
	// 以下字段可缺省
	msg.ToName, _ = getStreamString(values, "to_name")
	msg.Text, _ = getStreamString(values, "text")
	msg.HTML, _ = getStreamString(values, "html")

	if err := msg.Validate(); err != nil {
		return notify.Message{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
