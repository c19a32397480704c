package dispatch

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/aidmate/dispatch/internal/platform/apperr"
)

func TestService_ExportCases(t *testing.T) {
	f := newFixture(t)
	f.createCase(t)
	f.assignedCase(t)

	data, err := f.svc.ExportCases(context.Background(), f.director)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, exportHeader, rows[0])

	statuses := map[string]bool{rows[1][2]: true, rows[2][2]: true}
	require.True(t, statuses["NEW"])
	require.True(t, statuses["ASSIGNED"])
	require.Equal(t, "Meskel Square", rows[1][7])
}

func TestService_ExportCases_DirectorOnly(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ExportCases(context.Background(), f.paramedicActor())
	require.True(t, apperr.Is(err, apperr.KindUnauthorized))
}

func TestWriteWorkbook_Empty(t *testing.T) {
	data, err := writeWorkbook(nil)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
