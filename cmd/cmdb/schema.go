// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	idoit "github.com/cau-rz/cmdb-idoit"
)

var typeCmd = &cobra.Command{
	Use:   "type",
	Short: "Inspect object types",
}

var typeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List object types",
	Args:  cobra.NoArgs,
	RunE:  runTypeList,
}

var typeDeclarationCmd = &cobra.Command{
	Use:   "declaration <type>",
	Short: "Show the categories and field types of an object type",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypeDeclaration,
}

var categoryCmd = &cobra.Command{
	Use:   "category",
	Short: "Inspect categories",
}

var categoryDeclarationCmd = &cobra.Command{
	Use:   "declaration <category>",
	Short: "Show the field types of a category",
	Long: `Show the field types of a category.

Categories are resolved through an object type that includes them, given
with --type.`,
	Args: cobra.ExactArgs(1),
	RunE: runCategoryDeclaration,
}

var categoryDialogCmd = &cobra.Command{
	Use:   "dialog <category> <field>",
	Short: "List the entries of a dialog field",
	Args:  cobra.ExactArgs(2),
	RunE:  runCategoryDialog,
}

var declarationType string

func init() {
	rootCmd.AddCommand(typeCmd)
	typeCmd.AddCommand(typeListCmd)
	typeCmd.AddCommand(typeDeclarationCmd)

	rootCmd.AddCommand(categoryCmd)
	categoryCmd.AddCommand(categoryDeclarationCmd)
	categoryCmd.AddCommand(categoryDialogCmd)

	categoryDeclarationCmd.Flags().StringVarP(&declarationType, "type", "t", "", "object type including the category (required)")
	categoryDeclarationCmd.MarkFlagRequired("type")
}

func runTypeList(cmd *cobra.Command, args []string) error {
	types, err := client.ListTypes(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("list types: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "GROUP\tTITLE\tID\tCONST")
	for _, t := range types {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.Group.Title, t.Title, t.ID, t.Const)
	}
	return w.Flush()
}

func runTypeDeclaration(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	t, err := client.GetType(ctx, args[0])
	if err != nil {
		return err
	}
	rules, err := client.RuleTable(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%d)\n", t.Const, t.ID)
	for _, inc := range t.Categories {
		printCategoryDeclaration(out, inc.Category, inc.MultiValue, rules)
	}
	return nil
}

func runCategoryDeclaration(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	t, err := client.GetType(ctx, declarationType)
	if err != nil {
		return err
	}
	inc, ok := t.Inclusion(args[0])
	if !ok {
		return &idoit.UnknownCategoryError{Type: t.Const, Category: args[0]}
	}
	rules, err := client.RuleTable(ctx)
	if err != nil {
		return err
	}
	printCategoryDeclaration(cmd.OutOrStdout(), inc.Category, inc.MultiValue, rules)
	return nil
}

// printCategoryDeclaration writes one category block:
//
//	  C__CATS__PERSON_GROUP  (list)
//	    ([]int) persons - mapped with $[*].id
func printCategoryDeclaration(out io.Writer, cat *idoit.Category, multi bool, rules *idoit.RuleTable) {
	fmt.Fprintf(out, "  %s", cat.Const)
	if multi {
		fmt.Fprint(out, "  (list)")
	}
	fmt.Fprintln(out)
	for _, f := range cat.Fields {
		fmt.Fprintf(out, "    (%s) %s", f.Type, f.Key)
		if rule, ok := rules.Lookup(cat.Const, f.Key); ok {
			fmt.Fprintf(out, " - mapped with %s", rule.Expr)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintln(out)
}

func runCategoryDialog(cmd *cobra.Command, args []string) error {
	d, err := client.LoadDialog(commandContext(cmd), args[0], args[1])
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONST\tTITLE")
	for _, e := range d.Entries() {
		fmt.Fprintf(w, "%d\t%s\t%s\n", e.ID, e.Const, e.Title)
	}
	return w.Flush()
}
