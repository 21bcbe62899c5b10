package oauth

import "testing"

func TestGenerateToken(t *testing.T) {
	token, err := generateToken()
	if err != nil {
		t.Fatalf("generateToken() error = %v", err)
	}
	if len(token) != tokenLength {
		t.Errorf("token length = %d, want %d", len(token), tokenLength)
	}
	for _, c := range token {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("token contains non-hex character %q", c)
			break
		}
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		token, err := generateToken()
		if err != nil {
			t.Fatalf("generateToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d generations", i)
		}
		seen[token] = true
	}
}
