package main

import (
	"testing"

	"gopkg.in/yaml.v3"
)

const sampleBatch = `
funder: "0xFa01000000000000000000000000000000000000"
totalFunding: "2000"
entries:
  - address: "0x1111111111111111111111111111111111111111"
    amount: "1000"
    startTime: 1000
    endTime: 2000
    cliffDuration: 100
  - address: "0x2222222222222222222222222222222222222222"
    amount: "900"
    startTime: 1500
    endTime: 2500
`

func TestBatchFileParse(t *testing.T) {
	var batch batchFile
	if err := yaml.Unmarshal([]byte(sampleBatch), &batch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := validateBatch(&batch); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if batch.TotalFunding != "2000" || len(batch.Entries) != 2 {
		t.Fatalf("batch = %+v", batch)
	}
	first := batch.Entries[0]
	if first.Amount != "1000" || first.StartTime != 1000 || first.EndTime != 2000 || first.CliffDuration != 100 {
		t.Fatalf("first entry = %+v", first)
	}
	if batch.Entries[1].CliffDuration != 0 {
		t.Fatalf("cliff should default to zero, got %d", batch.Entries[1].CliffDuration)
	}
}

func TestValidateBatchRejections(t *testing.T) {
	base := func() *batchFile {
		return &batchFile{
			Funder:       "0xFa01000000000000000000000000000000000000",
			TotalFunding: "2000",
			Entries: []batchEntry{{
				Address:   "0x1111111111111111111111111111111111111111",
				Amount:    "1000",
				StartTime: 1000,
				EndTime:   2000,
			}},
		}
	}

	cases := []struct {
		name   string
		mutate func(*batchFile)
	}{
		{"missing funder", func(b *batchFile) { b.Funder = " " }},
		{"missing funding", func(b *batchFile) { b.TotalFunding = "" }},
		{"no entries", func(b *batchFile) { b.Entries = nil }},
		{"missing address", func(b *batchFile) { b.Entries[0].Address = "" }},
		{"missing amount", func(b *batchFile) { b.Entries[0].Amount = "" }},
		{"inverted schedule", func(b *batchFile) { b.Entries[0].EndTime = 500 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			batch := base()
			tc.mutate(batch)
			if err := validateBatch(batch); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
