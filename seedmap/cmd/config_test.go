// Copyright © 2023-2024 Wei Shen <shenwei356@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

func newTestCommand() *cobra.Command {
	c := &cobra.Command{Use: "test"}
	c.Flags().Float64P("error-rate", "e", 0.05, "")
	c.Flags().IntP("max-hits", "m", 100, "")
	c.Flags().BoolP("purge-ambiguous", "", false, "")
	c.Flags().StringP("score", "", "edit", "")
	c.Flags().StringSliceP("ref", "r", []string{}, "")
	c.Flags().StringP("out-file", "o", "-", "")
	return c
}

func TestConfig(t *testing.T) {
	c := newTestCommand()
	values, err := flagDefaults(c.Flags(), configSkippedFlags)
	if err != nil {
		t.Error(err)
		return
	}
	if _, ok := values["out-file"]; ok {
		t.Errorf("out-file should not be saved")
	}
	if v, ok := values["max-hits"].(int); !ok || v != 100 {
		t.Errorf("unexpected default value of max-hits: %v", values["max-hits"])
	}

	// edit the defaults
	values["max-hits"] = 5
	values["error-rate"] = 0.1
	values["purge-ambiguous"] = true
	values["ref"] = []string{"a.fa", "b.fa"}
	data, err := toml.Marshal(map[string]interface{}{"map": values})
	if err != nil {
		t.Error(err)
		return
	}
	file := filepath.Join(t.TempDir(), "config.toml")
	if err = os.WriteFile(file, data, 0644); err != nil {
		t.Error(err)
		return
	}

	c = newTestCommand()
	if err = c.ParseFlags([]string{"-m", "7"}); err != nil {
		t.Error(err)
		return
	}
	if err = applyConfig(c, file, "map"); err != nil {
		t.Error(err)
		return
	}

	if v, _ := c.Flags().GetInt("max-hits"); v != 7 {
		t.Errorf("the command line value should be kept: %d", v)
	}
	if v, _ := c.Flags().GetFloat64("error-rate"); v != 0.1 {
		t.Errorf("unexpected error rate: %f", v)
	}
	if v, _ := c.Flags().GetBool("purge-ambiguous"); !v {
		t.Errorf("purge-ambiguous should be set")
	}
	if v, _ := c.Flags().GetStringSlice("ref"); strings.Join(v, ",") != "a.fa,b.fa" {
		t.Errorf("unexpected references: %v", v)
	}

	if err = applyConfig(c, file, "index"); err == nil {
		t.Errorf("a missing section should be reported")
	}
	if err = os.WriteFile(file, []byte("[map]\nunknown = 1\n"), 0644); err != nil {
		t.Error(err)
		return
	}
	if err = applyConfig(newTestCommand(), file, "map"); err == nil {
		t.Errorf("an unknown option should be reported")
	}
}

func TestWrapText(t *testing.T) {
	s := wrapText(strings.Repeat("word ", 40), 20)
	for _, line := range strings.Split(s, "\n") {
		if len(line) > 20 {
			t.Errorf("line too long: %q", line)
		}
	}
	if wrapText("", 20) != "" {
		t.Errorf("empty text should not change")
	}
}

func TestParseByteSize(t *testing.T) {
	for _, test := range []struct {
		s string
		v int64
	}{
		{"0", 0},
		{"", 0},
		{"1K", 1 << 10},
		{"2M", 2 << 20},
		{"1G", 1 << 30},
	} {
		v, err := ParseByteSize(test.s)
		if err != nil || v != test.v {
			t.Errorf("%s: expected %d, got %d, %v", test.s, test.v, v, err)
		}
	}
}
