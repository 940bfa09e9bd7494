package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var validateDeep bool

var validateCmd = &cobra.Command{
	Use:   "validate <email>...",
	Short: "Score one or more addresses",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDeep, "deep", false, "run the MX and SMTP stages")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	results := a.Validator.ValidateBatch(cmd.Context(), args, validateDeep)
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), results)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tVALID\tSCORE\tRISK\tERRORS\tWARNINGS")
	fmt.Fprintln(w, "-----\t-----\t-----\t----\t------\t--------")
	for _, res := range results {
		errs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			errs[i] = string(e)
		}
		warns := make([]string, len(res.Warnings))
		for i, wk := range res.Warnings {
			warns[i] = string(wk)
		}
		fmt.Fprintf(w, "%s\t%t\t%d\t%s\t%s\t%s\n",
			res.Email,
			res.IsValid,
			res.Score,
			res.RiskLevel,
			strings.Join(errs, ","),
			strings.Join(warns, ","),
		)
		if res.Suggestion != "" {
			fmt.Fprintf(w, "\tdid you mean %s?\t\t\t\t\n", res.Suggestion)
		}
	}
	return w.Flush()
}
