package ssrf

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmkol/rdapx/pkg/rdaperr"
)

func TestGuard_Validate(t *testing.T) {
	g := MustNewGuard()

	blocked := []string{
		"https://10.0.0.1/x",
		"http://example.com/x",
		"ftp://rdap.verisign.com/x",
		"https://172.16.5.4/",
		"https://172.31.255.255/",
		"https://192.168.1.1/",
		"https://127.0.0.1:8443/",
		"https://169.254.169.254/latest/meta-data",
		"https://[::1]/",
		"https://[fe80::1]/",
		"https://[fd00::1]/",
		"https://[::ffff:10.1.2.3]/",
		"https://0.0.0.0/",
		"https://localhost/",
		"https://api.localhost/",
		"https:///nohost",
		"://bad",
	}
	for _, u := range blocked {
		err := g.Validate(u)
		var se *rdaperr.SSRFProtectionError
		require.True(t, errors.As(err, &se), "%s should be blocked, got %v", u, err)
	}

	allowed := []string{
		"https://rdap.verisign.com/x",
		"https://RDAP.ARIN.NET/registry/ip/8.8.8.8",
		"https://8.8.8.8/",
		"https://172.32.0.1/",
		"https://[2001:4860:4860::8888]/",
	}
	for _, u := range allowed {
		assert.NoError(t, g.Validate(u), u)
	}
}

func TestGuard_numericHosts(t *testing.T) {
	g := MustNewGuard()

	for _, u := range []string{
		"https://2130706433/",
		"https://0x7f.1/",
		"https://0x7F000001/",
		"https://0177.0.0.1/",
		"https://127.1/",
		"https://10.1/x",
		"https://0x/",
	} {
		err := g.Validate(u)
		var se *rdaperr.SSRFProtectionError
		require.True(t, errors.As(err, &se), "%s should be blocked, got %v", u, err)
	}

	for _, u := range []string{
		"https://0x7f.example/",
		"https://123.example.com/",
		"https://1.2.3.4.5/",
		"https://rdap.0xdead.net/",
	} {
		assert.NoError(t, g.Validate(u), u)
	}
}

func TestGuard_extraAndDisabled(t *testing.T) {
	g, err := NewGuard(Opts{ExtraBlocked: []string{"100.64.0.0/10"}})
	require.NoError(t, err)
	assert.Error(t, g.Validate("https://100.64.1.1/"))

	_, err = NewGuard(Opts{ExtraBlocked: []string{"not-a-prefix"}})
	require.Error(t, err)

	g, err = NewGuard(Opts{Disabled: true})
	require.NoError(t, err)
	assert.NoError(t, g.Validate("https://127.0.0.1:8443/"))
	assert.Error(t, g.Validate("http://127.0.0.1:8443/"), "scheme is still enforced")
}
