package flagx

import (
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"separate value", []string{"-c", "conf.json", "-a", "localhost"}, []string{"-c"}, []string{"-c", "conf.json"}},
		{"equals form", []string{"-config=alt.json", "-a", "x"}, []string{"-config"}, []string{"-config=alt.json"}},
		{"unknown ignored", []string{"-x", "1", "-y=2", "positional"}, []string{"-c"}, []string{}},
		{"trailing flag", []string{"-c"}, []string{"-c"}, []string{"-c"}},
		{"next token is a flag", []string{"-c", "-t", "5"}, []string{"-c"}, []string{"-c"}},
		{"several allowed", []string{"-a", ":50051", "-c", "conf.json", "-o", "x"}, []string{"-c", "-a"}, []string{"-a", ":50051", "-c", "conf.json"}},
		{"repeated kept in order", []string{"-c", "one.json", "-c", "two.json"}, []string{"-c"}, []string{"-c", "one.json", "-c", "two.json"}},
		{"empty", []string{}, []string{"-c"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func TestParseOwn(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"bin", "-a", ":6000", "-z", "other", "-c", "cfg.json", "-n", "7"}

	fs := flag.NewFlagSet("t", flag.ContinueOnError)
	addr := fs.String("a", "", "")
	n := fs.Int("n", 0, "")

	require.NoError(t, ParseOwn(fs))
	assert.Equal(t, ":6000", *addr)
	assert.Equal(t, 7, *n)
}

func TestJsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	cases := []struct {
		args []string
		want string
	}{
		{[]string{"bin", "-c", "/path/short.json"}, "/path/short.json"},
		{[]string{"bin", "-config", "/path/long.json"}, "/path/long.json"},
		{[]string{"bin", "-x", "1", "-y", "2"}, ""},
		{[]string{"bin", "-c", "/path/1.json", "-config", "/path/2.json"}, "/path/2.json"},
	}
	for _, tc := range cases {
		os.Args = tc.args
		assert.Equal(t, tc.want, JsonConfigFlags(), "%v", tc.args)
	}
}
