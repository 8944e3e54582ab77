package main

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/placescout/internal/discovery"
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "Print the effective category configuration as YAML",
	Long:  "Prints the searched place types, blocked tags and diversity-boost tags, after applying discovery.categories_file. The output can be edited and used as a categories file.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeCategories(cmd.OutOrStdout(), cfg.Discovery.CategoriesFile)
	},
}

func writeCategories(out io.Writer, path string) error {
	cats, err := discovery.LoadCategories(path)
	if err != nil {
		return err
	}
	data, err := cats.YAML()
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return eris.Wrap(err, "write categories")
	}
	return nil
}

func init() {
	rootCmd.AddCommand(categoriesCmd)
}
