// Copyright (C) 2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/datawire/wheeledit/pkg/wheel"
)

// rpathEdit is one `rpath:` entry of an --config batch-edit file.
type rpathEdit struct {
	Pattern string `json:"pattern"`
	Value   string `json:"value"`
}

// editConfig is the shape of an --config batch-edit YAML file: the same
// fields as edit's long flags, applied in addition to (and after) them.
type editConfig struct {
	Name            string      `json:"name,omitempty"`
	Version         string      `json:"version,omitempty"`
	Summary         string      `json:"summary,omitempty"`
	Author          string      `json:"author,omitempty"`
	AuthorEmail     string      `json:"author_email,omitempty"`
	License         string      `json:"license,omitempty"`
	RequiresPython  string      `json:"requires_python,omitempty"`
	AddClassifier   []string    `json:"add_classifier,omitempty"`
	SetClassifiers  []string    `json:"set_classifiers,omitempty"`
	AddRequiresDist []string    `json:"add_requires_dist,omitempty"`
	SetRequiresDist []string    `json:"set_requires_dist,omitempty"`
	PythonTag       string      `json:"python_tag,omitempty"`
	ABITag          string      `json:"abi_tag,omitempty"`
	PlatformTag     string      `json:"platform_tag,omitempty"`
	RPath           []rpathEdit `json:"rpath,omitempty"`
}

func init() {
	var flags struct {
		Output          string
		Config          string
		ShowDiff        bool
		Name            string
		Version         string
		Summary         string
		Author          string
		AuthorEmail     string
		License         string
		RequiresPython  string
		AddClassifier   []string
		SetClassifiers  []string
		AddRequiresDist []string
		SetRequiresDist []string
		PythonTag       string
		ABITag          string
		PlatformTag     string
		SetRPath        []string
	}
	cmd := &cobra.Command{
		Use:   "edit [flags] WHEELFILE.whl",
		Short: "Edit a wheel's dist-info metadata, tags, or ELF rpaths in place",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ed, err := wheel.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer ed.Close()

			var beforeMetadata, beforeWheel, beforeRecord []byte
			if flags.ShowDiff {
				beforeMetadata = ed.Metadata.Marshal()
				beforeWheel = ed.Wheel.Marshal()
				beforeRecord, err = ed.RawRecord().Marshal()
				if err != nil {
					return err
				}
			}

			if err := applyEditFlags(ed, flags.Name, flags.Version, flags.Summary, flags.Author,
				flags.AuthorEmail, flags.License, flags.RequiresPython,
				flags.AddClassifier, flags.SetClassifiers,
				flags.AddRequiresDist, flags.SetRequiresDist,
				flags.PythonTag, flags.ABITag, flags.PlatformTag); err != nil {
				return err
			}
			if err := applySetRPathFlags(ed, flags.SetRPath); err != nil {
				return err
			}

			if flags.Config != "" {
				cfgBytes, err := os.ReadFile(flags.Config)
				if err != nil {
					return err
				}
				var cfg editConfig
				if err := yaml.Unmarshal(cfgBytes, &cfg, yaml.DisallowUnknownFields); err != nil {
					return fmt.Errorf("%s: %w", flags.Config, err)
				}
				if err := applyEditConfig(ed, cfg); err != nil {
					return err
				}
			}

			output := flags.Output
			if output == "" {
				output = args[0]
			}

			if flags.ShowDiff {
				printUnifiedDiff(cmd, "METADATA", beforeMetadata, ed.Metadata.Marshal())
				printUnifiedDiff(cmd, "WHEEL", beforeWheel, ed.Wheel.Marshal())
				// RECORD is only rebuilt inside Save, so at this point it
				// still matches beforeRecord and this diff prints nothing.
				afterRecord, err := ed.RawRecord().Marshal()
				if err != nil {
					return err
				}
				printUnifiedDiff(cmd, "RECORD", beforeRecord, afterRecord)
			}

			return ed.Save(output)
		},
	}

	cmd.Flags().StringVar(&flags.Output, "output", "", "write to this path instead of overwriting the input")
	cmd.Flags().StringVar(&flags.Config, "config", "", "apply a batch of edits from a YAML file")
	cmd.Flags().BoolVar(&flags.ShowDiff, "show-diff", false, "print a unified diff of METADATA/WHEEL to stderr before saving (RECORD changes made by the save are not shown)")
	cmd.Flags().StringVar(&flags.Name, "name", "", "set the distribution name")
	cmd.Flags().StringVar(&flags.Version, "version", "", "set the distribution version")
	cmd.Flags().StringVar(&flags.Summary, "summary", "", "set the Summary field")
	cmd.Flags().StringVar(&flags.Author, "author", "", "set the Author field")
	cmd.Flags().StringVar(&flags.AuthorEmail, "author-email", "", "set the Author-Email field")
	cmd.Flags().StringVar(&flags.License, "license", "", "set the License field")
	cmd.Flags().StringVar(&flags.RequiresPython, "requires-python", "", "set the Requires-Python field")
	cmd.Flags().StringArrayVar(&flags.AddClassifier, "add-classifier", nil, "append a Classifier value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.SetClassifiers, "set-classifiers", nil, "replace every Classifier value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.AddRequiresDist, "add-requires-dist", nil, "append a Requires-Dist value (repeatable)")
	cmd.Flags().StringArrayVar(&flags.SetRequiresDist, "set-requires-dist", nil, "replace every Requires-Dist value (repeatable)")
	cmd.Flags().StringVar(&flags.PythonTag, "python-tag", "", "set every compatibility tag's python component")
	cmd.Flags().StringVar(&flags.ABITag, "abi-tag", "", "set every compatibility tag's abi component")
	cmd.Flags().StringVar(&flags.PlatformTag, "platform-tag", "", "set every compatibility tag's platform component")
	cmd.Flags().StringArrayVar(&flags.SetRPath, "set-rpath", nil,
		`rewrite ELF RPATH/RUNPATH entries of members matching PATTERN, given as "PATTERN=VALUE" (repeatable)`)

	argparser.AddCommand(cmd)
}

func applyEditFlags(
	ed *wheel.Editor,
	name, version, summary, author, authorEmail, license, requiresPython string,
	addClassifier, setClassifiers, addRequiresDist, setRequiresDist []string,
	pythonTag, abiTag, platformTag string,
) error {
	if name != "" {
		ed.SetName(name)
	}
	if version != "" {
		ed.SetVersion(version)
	}
	if summary != "" {
		ed.SetSummary(summary)
	}
	if author != "" {
		ed.SetAuthor(author)
	}
	if authorEmail != "" {
		ed.SetAuthorEmail(authorEmail)
	}
	if license != "" {
		ed.SetLicense(license)
	}
	if requiresPython != "" {
		ed.SetRequiresPython(requiresPython)
	}
	for _, c := range addClassifier {
		ed.AddClassifier(c)
	}
	if len(setClassifiers) > 0 {
		ed.SetClassifiers(setClassifiers)
	}
	for _, r := range addRequiresDist {
		ed.AddRequiresDist(r)
	}
	if len(setRequiresDist) > 0 {
		ed.SetRequiresDist(setRequiresDist)
	}
	if pythonTag != "" {
		ed.SetPythonTag(pythonTag)
	}
	if abiTag != "" {
		ed.SetABITag(abiTag)
	}
	if platformTag != "" {
		ed.SetPlatformTag(platformTag)
	}
	return nil
}

func applySetRPathFlags(ed *wheel.Editor, specs []string) error {
	for _, spec := range specs {
		idx := strings.IndexByte(spec, '=')
		if idx < 0 {
			return fmt.Errorf("--set-rpath: expected PATTERN=VALUE, got %q", spec)
		}
		if _, err := ed.SetRPath(spec[:idx], spec[idx+1:]); err != nil {
			return err
		}
	}
	return nil
}

func applyEditConfig(ed *wheel.Editor, cfg editConfig) error {
	if err := applyEditFlags(ed, cfg.Name, cfg.Version, cfg.Summary, cfg.Author, cfg.AuthorEmail,
		cfg.License, cfg.RequiresPython, cfg.AddClassifier, cfg.SetClassifiers,
		cfg.AddRequiresDist, cfg.SetRequiresDist, cfg.PythonTag, cfg.ABITag, cfg.PlatformTag); err != nil {
		return err
	}
	for _, r := range cfg.RPath {
		if _, err := ed.SetRPath(r.Pattern, r.Value); err != nil {
			return err
		}
	}
	return nil
}

func printUnifiedDiff(cmd *cobra.Command, name string, before, after []byte) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(before)),
		B:        difflib.SplitLines(string(after)),
		FromFile: name + " (before)",
		ToFile:   name + " (after)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(diff)
	if err != nil || text == "" {
		return
	}
	fmt.Fprint(cmd.ErrOrStderr(), text)
}
