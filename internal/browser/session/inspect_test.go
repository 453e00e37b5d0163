// internal/browser/session/inspect_test.go
package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectPage(t *testing.T) {
	tests := []struct {
		name      string
		html      string
		wantTitle string
		wantLogin bool
	}{
		{
			name:      "LoginForm",
			html:      `<html><head><title>Portal</title></head><body><p>Log in to continue</p><input type="password"></body></html>`,
			wantTitle: "Portal",
			wantLogin: true,
		},
		{
			name:      "PasswordTypeIsCaseInsensitive",
			html:      `<html><body><button>Sign In</button><input TYPE="Password"></body></html>`,
			wantLogin: true,
		},
		{
			name:      "LoginWordInButtonValue",
			html:      `<html><body><input type="password"><input type="submit" value="Login"></body></html>`,
			wantLogin: true,
		},
		{
			name:      "PasswordWithoutLoginText",
			html:      `<html><body><h1>Change your password</h1><input type="password"></body></html>`,
			wantLogin: false,
		},
		{
			name:      "LoginTextWithoutPassword",
			html:      `<html><head><title>News</title></head><body><a href="/login">Sign in</a></body></html>`,
			wantTitle: "News",
			wantLogin: false,
		},
		{
			name:      "ScriptTextIgnored",
			html:      `<html><body><script>var label = "login";</script><input type="password"></body></html>`,
			wantLogin: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, login, err := inspectPage(tt.html)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, title)
			assert.Equal(t, tt.wantLogin, login)
		})
	}
}
