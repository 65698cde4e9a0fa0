package reconcile

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"stakeshack/storage/marketplace"
)

// ReportRow is one stake record joined with the tenant's profile.
type ReportRow struct {
	ApartmentID     string
	StakeAddress    string
	TenantProfileID string
	TenantUsername  string
	Staker          string
	Amount          uint64
	IsActive        bool
	ReadAt          time.Time
}

// BuildReport lists the stake records of each apartment with the tenant's
// username. Missing profiles leave the username empty.
func BuildReport(ctx context.Context, directory marketplace.Directory, reader StateReader, apartmentIDs ...string) ([]ReportRow, error) {
	var rows []ReportRow
	usernames := make(map[string]string)
	for _, apartmentID := range apartmentIDs {
		entries, err := reader.ListStakeRecords(ctx, apartmentID)
		if err != nil {
			return nil, fmt.Errorf("report %s: %w", apartmentID, err)
		}
		readAt := time.Now().UTC()
		for _, entry := range entries {
			profileID := entry.Record.TenantProfileID
			username, cached := usernames[profileID]
			if !cached {
				profile, err := directory.GetProfileByID(ctx, profileID)
				if err != nil {
					return nil, fmt.Errorf("report %s: %w", apartmentID, err)
				}
				if profile != nil {
					username = profile.Username
				}
				usernames[profileID] = username
			}
			rows = append(rows, ReportRow{
				ApartmentID:     apartmentID,
				StakeAddress:    entry.Address.String(),
				TenantProfileID: profileID,
				TenantUsername:  username,
				Staker:          entry.Record.Staker.String(),
				Amount:          entry.Record.Amount,
				IsActive:        entry.Record.IsActive,
				ReadAt:          readAt,
			})
		}
	}
	return rows, nil
}

var reportHeader = []string{
	"apartment_id", "stake_address", "tenant_profile_id", "tenant_username",
	"staker", "amount_lamports", "is_active", "read_at",
}

func WriteCSV(w io.Writer, rows []ReportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("report: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ApartmentID,
			row.StakeAddress,
			row.TenantProfileID,
			row.TenantUsername,
			row.Staker,
			strconv.FormatUint(row.Amount, 10),
			strconv.FormatBool(row.IsActive),
			row.ReadAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("report: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// parquetRow stores amounts as signed INT64. The ledger's lamport supply is
// well below math.MaxInt64; larger values are refused rather than wrapped.
type parquetRow struct {
	ApartmentID     string `parquet:"name=apartment_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	StakeAddress    string `parquet:"name=stake_address, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TenantProfileID string `parquet:"name=tenant_profile_id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	TenantUsername  string `parquet:"name=tenant_username, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Staker          string `parquet:"name=staker, type=UTF8, encoding=PLAIN_DICTIONARY"`
	AmountLamports  int64  `parquet:"name=amount_lamports, type=INT64"`
	IsActive        bool   `parquet:"name=is_active, type=BOOLEAN"`
	ReadAt          string `parquet:"name=read_at, type=UTF8"`
}

// WriteParquet writes rows to path as a snappy-compressed parquet file.
func WriteParquet(path string, rows []ReportRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, row := range rows {
		if row.Amount > math.MaxInt64 {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: amount %d for %s exceeds parquet INT64", row.Amount, row.StakeAddress)
		}
		pr := &parquetRow{
			ApartmentID:     row.ApartmentID,
			StakeAddress:    row.StakeAddress,
			TenantProfileID: row.TenantProfileID,
			TenantUsername:  row.TenantUsername,
			Staker:          row.Staker,
			AmountLamports:  int64(row.Amount),
			IsActive:        row.IsActive,
			ReadAt:          row.ReadAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}
