// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	idoit "github.com/cau-rz/cmdb-idoit"
)

var objectCmd = &cobra.Command{
	Use:   "object",
	Short: "Find and show objects",
}

var objectFindCmd = &cobra.Command{
	Use:   "find",
	Short: "List the objects of a type with category values",
	Long: `List the objects of a type.

Each -c loads one category for all objects in a single batch and prints its
values per object.

Examples:
  cmdb object find -t C__OBJTYPE__PERSON -c C__CATS__PERSON
  cmdb object find -t C__OBJTYPE__SERVER -c C__CATG__IP -c C__CATG__MEMORY`,
	Args: cobra.NoArgs,
	RunE: runObjectFind,
}

var objectLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Show one object with category values",
	Args:  cobra.NoArgs,
	RunE:  runObjectLoad,
}

var (
	objectType       string
	objectID         int64
	objectCategories []string
)

func init() {
	rootCmd.AddCommand(objectCmd)
	objectCmd.AddCommand(objectFindCmd)
	objectCmd.AddCommand(objectLoadCmd)

	objectFindCmd.Flags().StringVarP(&objectType, "type", "t", "", "object type constant (required)")
	objectFindCmd.Flags().StringArrayVarP(&objectCategories, "with-category", "c", nil, "load values of category (repeatable)")
	objectFindCmd.MarkFlagRequired("type")

	objectLoadCmd.Flags().Int64VarP(&objectID, "load-object", "i", 0, "object id (required)")
	objectLoadCmd.Flags().StringArrayVarP(&objectCategories, "with-category", "c", nil, "load values of category (repeatable)")
	objectLoadCmd.MarkFlagRequired("load-object")
}

func runObjectFind(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	objects, err := client.ListObjects(ctx, map[string]any{"type": objectType})
	if err != nil {
		return fmt.Errorf("list objects: %w", err)
	}
	for _, c := range objectCategories {
		if err := objects.LoadCategory(ctx, c); err != nil {
			return fmt.Errorf("load %s: %w", c, err)
		}
	}

	out := cmd.OutOrStdout()
	for _, o := range objects.Objects() {
		fmt.Fprintf(out, "%d\t%s\n", o.ID(), o.Title())
		for _, c := range objectCategories {
			if _, ok := o.Type().Inclusion(c); !ok {
				continue
			}
			if err := printCategory(cmd, o, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func runObjectLoad(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	o, err := client.LoadObject(ctx, objectID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "object\t: %d\n", o.ID())
	fmt.Fprintf(out, "object\ttitle: %s\n", o.Title())
	fmt.Fprintf(out, "object\ttype: %s\n", o.Type().Const)
	for _, c := range objectCategories {
		if err := o.LoadCategory(ctx, c); err != nil {
			return fmt.Errorf("load %s: %w", c, err)
		}
		if err := printCategory(cmd, o, c); err != nil {
			return err
		}
	}
	return nil
}

func printCategory(cmd *cobra.Command, o *idoit.Object, categoryConst string) error {
	ctx := commandContext(cmd)
	inc, ok := o.Type().Inclusion(categoryConst)
	if !ok {
		return &idoit.UnknownCategoryError{Type: o.Type().Const, Category: categoryConst}
	}
	var v any
	if inc.MultiValue {
		list, err := o.List(ctx, categoryConst)
		if err != nil {
			return err
		}
		v = list
	} else {
		vals, err := o.Values(ctx, categoryConst)
		if err != nil {
			return err
		}
		v = vals
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", categoryConst)
	return printJSON(cmd.OutOrStdout(), v)
}
