package cmd

import (
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/jmylchreest/audiocast/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the configuration in YAML format, after merging the config file,
environment variables and flags. Use --defaults to print built-in defaults,
which makes a starting template:

  audiocast config dump --defaults > config.yaml

Environment variables use the AUDIOCAST_ prefix and underscores for nesting.
Example: media_api.base_url -> AUDIOCAST_MEDIA_API_BASE_URL`,
	RunE: runConfigDump,
}

func init() {
	configDumpCmd.Flags().BoolVar(&configDefaults, "defaults", false, "ignore config file and environment")
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	var (
		cfg *config.Config
		err error
	)
	if configDefaults {
		v := viper.New()
		config.SetDefaults(v)
		cfg, err = config.FromViper(v)
	} else {
		cfg, err = loadConfig()
	}
	if err != nil {
		return err
	}
	return dumpConfig(cmd.OutOrStdout(), cfg)
}

func dumpConfig(w io.Writer, cfg *config.Config) error {
	// Secrets are masked so dumps can be shared.
	masked := *cfg
	if masked.MediaAPI.AccessToken != "" {
		masked.MediaAPI.AccessToken = "********"
	}

	data, err := yaml.Marshal(toMap(&masked))
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	fmt.Fprintln(w, "# audiocast configuration")
	fmt.Fprintln(w, "# Duration format: 500ms, 30s, 5m. Size format: 256KB, 1MB.")
	fmt.Fprintln(w)
	_, err = w.Write(data)
	return err
}

// toMap converts a config struct to a map keyed by mapstructure tags, with
// durations and byte sizes in their human-readable form.
func toMap(v any) map[string]any {
	result := make(map[string]any)
	val := reflect.ValueOf(v)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	typ := val.Type()

	for i := range val.NumField() {
		field := val.Field(i)
		key := typ.Field(i).Tag.Get("mapstructure")
		if key == "" {
			key = typ.Field(i).Name
		}

		switch fv := field.Interface().(type) {
		case time.Duration:
			result[key] = fv.String()
		case config.ByteSize:
			result[key] = fv.String()
		default:
			if field.Kind() == reflect.Struct {
				result[key] = toMap(fv)
			} else {
				result[key] = fv
			}
		}
	}
	return result
}
