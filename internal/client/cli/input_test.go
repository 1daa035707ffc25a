package cli

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rdr(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

// withTerminal makes GetSecret take the no-echo branch and return secret.
func withTerminal(t *testing.T, secret string, err error) {
	t.Helper()
	oldRead, oldTerm := readPassword, isTerminal
	t.Cleanup(func() { readPassword, isTerminal = oldRead, oldTerm })
	isTerminal = func(int) bool { return true }
	readPassword = func(int) ([]byte, error) {
		if err != nil {
			return nil, err
		}
		return []byte(secret), nil
	}
}

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("hello world\n"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)
	assert.Equal(t, "Name?\n> ", out.String())
}

func TestGetSimpleTextEOF(t *testing.T) {
	var out bytes.Buffer
	got, err := GetSimpleText(rdr("lastline"), "Name?", &out)
	require.NoError(t, err)
	assert.Equal(t, "lastline", got)

	_, err = GetSimpleText(rdr(""), "Name?", &out)
	assert.Error(t, err)
}

func TestGetSecret_Terminal(t *testing.T) {
	withTerminal(t, "s3cret", nil)

	var out bytes.Buffer
	got, err := GetSecret(rdr("ignored\n"), "PIN", &out)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", string(got))
	assert.Equal(t, "PIN: \n", out.String())
}

func TestGetSecret_Piped(t *testing.T) {
	old := isTerminal
	t.Cleanup(func() { isTerminal = old })
	isTerminal = func(int) bool { return false }

	var out bytes.Buffer
	got, err := GetSecret(rdr("123456\n"), "PIN", &out)
	require.NoError(t, err)
	assert.Equal(t, "123456", string(got))
}

func TestGetPassword_Error(t *testing.T) {
	withTerminal(t, "", errors.New("boom"))

	var out bytes.Buffer
	_, err := GetPassword(rdr(""), &out)
	assert.Error(t, err)
}

func TestValidatePIN(t *testing.T) {
	tests := []struct {
		pin     string
		wantErr bool
	}{
		{pin: "123456"},
		{pin: "12345678"},
		{pin: "12345", wantErr: true},
		{pin: "12345a", wantErr: true},
		{pin: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pin, func(t *testing.T) {
			err := ValidatePIN(tt.pin)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWeakPIN)
				return
			}
			assert.NoError(t, err)
		})
	}
}
