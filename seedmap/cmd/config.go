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
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "write default options of mapping to a TOML file",
	Long: `write default options of mapping to a TOML file

The file can be edited and used in "seedmap map -c config.toml".
Keys are the long names of flags, in the section [map].

`,
	Run: func(cmd *cobra.Command, args []string) {
		outFile := expandPath(getFlagString(cmd, "out-file"))

		values, err := flagDefaults(mapCmd.LocalFlags(), configSkippedFlags)
		checkError(err)

		data, err := toml.Marshal(map[string]interface{}{"map": values})
		checkError(err)

		if isStdin(outFile) {
			_, err = os.Stdout.Write(data)
		} else {
			err = os.WriteFile(outFile, data, 0644)
		}
		checkError(err)
	},
}

func init() {
	RootCmd.AddCommand(configCmd)

	configCmd.Flags().StringP("out-file", "o", "-",
		formatFlagUsage(`Out file ("-" for stdout).`))

	configCmd.SetUsageTemplate(usageTemplate("[-o config.toml]"))
}

// flags not saved in config files
var configSkippedFlags = map[string]bool{
	"config":   true,
	"out-file": true,
	"help":     true,
}

// flagDefaults returns the default values of flags, typed for TOML.
func flagDefaults(flags *pflag.FlagSet, skip map[string]bool) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || skip[f.Name] {
			return
		}
		var v interface{}
		switch f.Value.Type() {
		case "int":
			v, err = strconv.Atoi(f.DefValue)
		case "float64":
			v, err = strconv.ParseFloat(f.DefValue, 64)
		case "bool":
			v, err = strconv.ParseBool(f.DefValue)
		case "stringSlice":
			s := strings.Trim(f.DefValue, "[]")
			if s == "" {
				v = []string{}
			} else {
				v = strings.Split(s, ",")
			}
		default:
			v = f.DefValue
		}
		values[f.Name] = v
	})
	return values, err
}

// applyConfig sets flags not given on the command line with values in a section of a TOML file.
func applyConfig(cmd *cobra.Command, file, section string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	var config map[string]interface{}
	if err = toml.Unmarshal(data, &config); err != nil {
		return errors.Wrapf(err, "parsing config file: %s", file)
	}
	values, ok := config[section].(map[string]interface{})
	if !ok {
		return fmt.Errorf("section [%s] not found in config file: %s", section, file)
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	flags := cmd.Flags()
	var f *pflag.Flag
	var s string
	for _, k := range keys {
		if configSkippedFlags[k] {
			continue
		}
		if f = flags.Lookup(k); f == nil {
			return fmt.Errorf("unknown option in config file %s: %s", file, k)
		}
		if f.Changed {
			continue
		}
		switch v := values[k].(type) {
		case []interface{}:
			if len(v) == 0 {
				continue
			}
			items := make([]string, len(v))
			for i, item := range v {
				items[i] = fmt.Sprint(item)
			}
			s = strings.Join(items, ",")
		default:
			s = fmt.Sprint(v)
		}
		if err = flags.Set(k, s); err != nil {
			return errors.Wrapf(err, "invalid value of %s in config file %s", k, file)
		}
	}
	return nil
}
