package main

import "fmt"

func skippedViewWarnings(views []string) []string {
	if len(views) == 0 {
		return nil
	}

	warnings := []string{
		fmt.Sprintf("source contains %d view(s) that are not cloned", len(views)),
	}
	for _, v := range views {
		warnings = append(warnings, fmt.Sprintf("view: %s", v))
	}
	return warnings
}
