package store

// KeyFromAddress derives the registry key for a server address. Every rune
// that is not a letter or digit maps to '_', so equal addresses always
// produce equal keys and the key stays safe to embed in channel names and
// command arguments ("play.example.com:25565" -> "play_example_com_25565").
func KeyFromAddress(address string) string {
	key := make([]rune, 0, len(address))
	for _, r := range address {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			key = append(key, r)
		default:
			key = append(key, '_')
		}
	}
	return string(key)
}
