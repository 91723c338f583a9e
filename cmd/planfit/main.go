// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command planfit tunes and compares classifiers that predict which
// subscribers should be offered the premium plan.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/AleutianAI/planfit/pkg/ux"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	// Execute the root command. Cobra handles parsing the arguments.
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if terr := teardown(); terr != nil && err == nil {
		err = terr
	}
	if err != nil {
		ux.Error(err.Error())
		os.Exit(1)
	}
}
