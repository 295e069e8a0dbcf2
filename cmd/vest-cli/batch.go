package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// batchFile is the operator-facing format for provisioning schedules in bulk.
type batchFile struct {
	Funder       string       `yaml:"funder"`
	TotalFunding string       `yaml:"totalFunding"`
	Entries      []batchEntry `yaml:"entries"`
}

type batchEntry struct {
	Address       string `yaml:"address"`
	Amount        string `yaml:"amount"`
	StartTime     int64  `yaml:"startTime"`
	EndTime       int64  `yaml:"endTime"`
	CliffDuration int64  `yaml:"cliffDuration"`
}

func addRecipients(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading batch file %s: %v\n", path, err)
		os.Exit(1)
	}
	var batch batchFile
	if err := yaml.Unmarshal(raw, &batch); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing batch file %s: %v\n", path, err)
		os.Exit(1)
	}
	if err := validateBatch(&batch); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	entries := make([]map[string]interface{}, 0, len(batch.Entries))
	for _, entry := range batch.Entries {
		entries = append(entries, map[string]interface{}{
			"address":       entry.Address,
			"amount":        entry.Amount,
			"startTime":     entry.StartTime,
			"endTime":       entry.EndTime,
			"cliffDuration": entry.CliffDuration,
		})
	}
	result, err := callRPC("vesting_addRecipients", map[string]interface{}{
		"funder":       batch.Funder,
		"totalFunding": batch.TotalFunding,
		"entries":      entries,
	}, true)
	printResult(result, err)
}

func validateBatch(batch *batchFile) error {
	if strings.TrimSpace(batch.Funder) == "" {
		return fmt.Errorf("batch file is missing the funder address")
	}
	if strings.TrimSpace(batch.TotalFunding) == "" {
		return fmt.Errorf("batch file is missing totalFunding")
	}
	if len(batch.Entries) == 0 {
		return fmt.Errorf("batch file has no entries")
	}
	for i, entry := range batch.Entries {
		if strings.TrimSpace(entry.Address) == "" {
			return fmt.Errorf("entry %d is missing an address", i)
		}
		if strings.TrimSpace(entry.Amount) == "" {
			return fmt.Errorf("entry %d is missing an amount", i)
		}
		if entry.EndTime <= entry.StartTime {
			return fmt.Errorf("entry %d has endTime before startTime", i)
		}
	}
	return nil
}
