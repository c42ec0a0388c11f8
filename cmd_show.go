// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/datawire/wheeledit/pkg/wheel"
)

// showView is the full decoded Editor state dumped by `show --format=json`
// or `--format=yaml`.
type showView struct {
	Name                    string            `json:"name" yaml:"name"`
	Version                 string            `json:"version" yaml:"version"`
	Summary                 string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Author                  string            `json:"author,omitempty" yaml:"author,omitempty"`
	AuthorEmail             string            `json:"author_email,omitempty" yaml:"author_email,omitempty"`
	License                 string            `json:"license,omitempty" yaml:"license,omitempty"`
	RequiresPython          string            `json:"requires_python,omitempty" yaml:"requires_python,omitempty"`
	DescriptionContentType  string            `json:"description_content_type,omitempty" yaml:"description_content_type,omitempty"`
	Classifiers             []string          `json:"classifiers,omitempty" yaml:"classifiers,omitempty"`
	RequiresDist            []string          `json:"requires_dist,omitempty" yaml:"requires_dist,omitempty"`
	ProjectURLs             map[string]string `json:"project_urls,omitempty" yaml:"project_urls,omitempty"`
	PythonTag               string            `json:"python_tag" yaml:"python_tag"`
	ABITag                  string            `json:"abi_tag" yaml:"abi_tag"`
	PlatformTag             string            `json:"platform_tag" yaml:"platform_tag"`
	Filename                string            `json:"filename" yaml:"filename"`
}

func newShowView(ed *wheel.Editor) showView {
	filename, _ := ed.Filename()
	return showView{
		Name:                   ed.Name(),
		Version:                ed.Version(),
		Summary:                ed.Summary(),
		Author:                 ed.Author(),
		AuthorEmail:            ed.AuthorEmail(),
		License:                ed.License(),
		RequiresPython:         ed.RequiresPython(),
		DescriptionContentType: ed.DescriptionContentType(),
		Classifiers:            ed.Classifiers(),
		RequiresDist:           ed.RequiresDist(),
		ProjectURLs:            ed.ProjectURLs(),
		PythonTag:              ed.PythonTag(),
		ABITag:                 ed.ABITag(),
		PlatformTag:            ed.PlatformTag(),
		Filename:               filename,
	}
}

func init() {
	var flags struct {
		Format string
		Field  string
	}
	cmd := &cobra.Command{
		Use:   "show [flags] WHEELFILE.whl",
		Short: "Print a wheel's dist-info metadata",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ed, err := wheel.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer ed.Close()

			if flags.Field != "" {
				value, ok := ed.GetMetadata(flags.Field)
				if !ok {
					return fmt.Errorf("no such field: %q", flags.Field)
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}

			view := newShowView(ed)
			switch flags.Format {
			case "", "text":
				return printShowText(cmd, view)
			case "json":
				bs, err := json.MarshalIndent(view, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(bs))
				return nil
			case "yaml":
				bs, err := yaml.Marshal(view)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(bs))
				return nil
			default:
				return fmt.Errorf("unrecognized --format: %q", flags.Format)
			}
		},
	}
	cmd.Flags().StringVar(&flags.Format, "format", "text", "output format: text, json, or yaml")
	cmd.Flags().StringVar(&flags.Field, "field", "", "print only the named METADATA field's value")

	argparser.AddCommand(cmd)
}

func printShowText(cmd *cobra.Command, view showView) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Name: %s\n", view.Name)
	fmt.Fprintf(out, "Version: %s\n", view.Version)
	if view.Summary != "" {
		fmt.Fprintf(out, "Summary: %s\n", view.Summary)
	}
	if view.Author != "" {
		fmt.Fprintf(out, "Author: %s\n", view.Author)
	}
	if view.License != "" {
		fmt.Fprintf(out, "License: %s\n", view.License)
	}
	if view.RequiresPython != "" {
		fmt.Fprintf(out, "Requires-Python: %s\n", view.RequiresPython)
	}
	fmt.Fprintf(out, "Tag: %s-%s-%s\n", view.PythonTag, view.ABITag, view.PlatformTag)
	fmt.Fprintf(out, "Filename: %s\n", view.Filename)
	for _, c := range view.Classifiers {
		fmt.Fprintf(out, "Classifier: %s\n", c)
	}
	for _, r := range view.RequiresDist {
		fmt.Fprintf(out, "Requires-Dist: %s\n", r)
	}
	for label, url := range view.ProjectURLs {
		fmt.Fprintf(out, "Project-URL: %s, %s\n", label, url)
	}
	return nil
}
