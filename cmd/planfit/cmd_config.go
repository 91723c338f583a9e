// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/planfit/cmd/planfit/config"
	"github.com/AleutianAI/planfit/pkg/ux"
)

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := configPath
	if path == "" {
		def, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = def
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.Save(path, config.DefaultConfig()); err != nil {
		return err
	}
	ux.Success("Wrote default config to " + path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	shown := *cfg
	if shown.Influx.Token != "" {
		shown.Influx.Token = "<redacted>"
	}
	data, err := yaml.Marshal(shown)
	if err != nil {
		return err
	}
	ux.Block(string(data))
	return nil
}
