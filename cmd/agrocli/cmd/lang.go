package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"agrobot/internal/inference"
)

func init() {
	rootCmd.AddCommand(langCmd)
}

var langCmd = &cobra.Command{
	Use:   "lang [code]",
	Short: "Show or set the answer language (en, hi, te, kn)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) == 0 {
			fmt.Println(e.prefs.Language(ctx))
			return nil
		}

		code := strings.ToLower(strings.TrimSpace(args[0]))
		if !inference.ValidLanguage(code) {
			return fmt.Errorf("unsupported language %q, valid: %s", code, strings.Join(inference.Languages, ", "))
		}
		e.prefs.SetLanguage(ctx, code)
		fmt.Println("Language set to " + code + ".")
		return nil
	},
}
