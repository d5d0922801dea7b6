package getsafe

func String(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func Slice(payload map[string]any, key string) []any {
	if v, ok := payload[key]; ok {
		if s, ok := v.([]any); ok {
			return s
		}
	}
	return nil
}

func Object(payload map[string]any, key string) map[string]any {
	if v, ok := payload[key]; ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return nil
}
