package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agrobot/internal/inference"
	"agrobot/internal/localstore"
)

func init() {
	rootCmd.AddCommand(setupCmd)
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Pick language and location for localized, weather-aware answers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		in := bufio.NewScanner(os.Stdin)

		fmt.Printf("Language (%s) [%s]: ", strings.Join(inference.Languages, "/"), e.prefs.Language(ctx))
		if in.Scan() {
			code := strings.ToLower(strings.TrimSpace(in.Text()))
			if code != "" {
				if !inference.ValidLanguage(code) {
					return fmt.Errorf("unsupported language %q", code)
				}
				e.prefs.SetLanguage(ctx, code)
			}
		}

		fmt.Print("Latitude (blank to skip location): ")
		if in.Scan() {
			latText := strings.TrimSpace(in.Text())
			if latText != "" {
				lat, err := strconv.ParseFloat(latText, 64)
				if err != nil {
					return fmt.Errorf("bad latitude %q", latText)
				}
				fmt.Print("Longitude: ")
				if !in.Scan() {
					return fmt.Errorf("longitude is required with latitude")
				}
				lon, err := strconv.ParseFloat(strings.TrimSpace(in.Text()), 64)
				if err != nil {
					return fmt.Errorf("bad longitude %q", in.Text())
				}

				coords := localstore.Coords{Latitude: lat, Longitude: lon}
				e.prefs.SetCoordinates(ctx, coords)
				if name, err := e.client.LocationName(ctx, coords.Lat(), coords.Lon()); err == nil && name != "" {
					fmt.Println("Location saved: " + name)
				} else {
					fmt.Println("Location saved.")
				}
			}
		}

		e.prefs.SetOnboardingComplete(ctx)
		fmt.Println("Setup complete. Run `agrocli chat` to start.")
		return nil
	},
}
