package cli

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sleepdebt/internal/domain"
	"sleepdebt/internal/repository"
	"sleepdebt/internal/service"
	"sleepdebt/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc      *service.DebtService
	src      *source.StaticSource
	cleanups int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	src := source.NewStaticSource()
	svc := service.NewDebtService(repository.NewMemoryStore(), src, service.Options{
		TimeZone: "UTC",
		Now:      func() time.Time { return fixedNow },
	}, zap.NewNop())
	_, err := svc.EnsureSettings(context.Background())
	require.NoError(t, err)
	return &fixture{svc: svc, src: src}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(context.Context, bool) (*service.DebtService, func(), error) {
		return f.svc, func() { f.cleanups++ }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func night(id string, day, minutes int) domain.RawInterval {
	end := time.Date(2024, 5, day, 7, 0, 0, 0, time.UTC)
	return domain.RawInterval{
		ExternalID: id,
		Start:      end.Add(-time.Duration(minutes) * time.Minute),
		End:        end,
		SourceID:   "watch",
		Category:   domain.CategoryAsleepCore,
	}
}

func TestRefreshAndQueries(t *testing.T) {
	f := newFixture(t)
	f.src.Push(&domain.ChangeSet{
		Added:     []domain.RawInterval{night("a", 9, 420), night("b", 10, 450)},
		NewCursor: "c-1",
	})

	out, err := f.run(t, "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated 2 day(s)")
	assert.Equal(t, 1, f.cleanups)

	out, err = f.run(t, "refresh")
	require.NoError(t, err)
	assert.Equal(t, "No changes.\n", out)

	out, err = f.run(t, "debt", "--window", "7")
	require.NoError(t, err)
	assert.Equal(t, "1h 30m (low)\n", out)

	out, err = f.run(t, "today")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-10@anchor4: 7h 30m of 8h 0m (+0h 30m)\n", out)

	out, err = f.run(t, "days", "--window", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-05-10")
	assert.Contains(t, out, "deficit")

	out, err = f.run(t, "chart", "--window", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "2024-05-08")
}

func TestGoalAndBoundary(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "goal", "450")
	require.NoError(t, err)
	assert.Equal(t, "Goal set to 7h 30m.\n", out)

	_, err = f.run(t, "goal", "abc")
	require.Error(t, err)

	_, err = f.run(t, "goal", "100")
	assert.True(t, errors.Is(err, domain.ErrInvalidSettings))

	out, err = f.run(t, "boundary", "6")
	require.NoError(t, err)
	assert.Equal(t, "Day boundary set to 06:00.\n", out)

	out, err = f.run(t, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, "7h 30m")
	assert.Contains(t, out, "06:00")
	assert.Contains(t, out, "never")
}

func TestExport(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(t.TempDir(), "out.xlsx")

	out, err := f.run(t, "export", "--window", "5", "-o", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	wb, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Sleep Debt")
	require.NoError(t, err)
	assert.Len(t, rows, 6)
}

func TestFactoryError(t *testing.T) {
	root := NewRootCommand(func(context.Context, bool) (*service.DebtService, func(), error) {
		return nil, nil, errors.New("no store")
	})
	root.SetArgs([]string{"debt"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.EqualError(t, root.Execute(), "no store")
}

func TestWindowOutOfRangeRejectedBeforeStoreOpens(t *testing.T) {
	f := newFixture(t)
	for _, args := range [][]string{
		{"debt", "--window", "1000"},
		{"chart", "--window", "-1"},
		{"days", "--window", "367"},
		{"export", "--window", "100000", "-o", filepath.Join(t.TempDir(), "x.xlsx")},
	} {
		_, err := f.run(t, args...)
		require.ErrorIs(t, err, domain.ErrInvalidSettings, args)
	}
	assert.Zero(t, f.cleanups)

	_, err := f.run(t, "days", "--window", "366")
	require.NoError(t, err)
}

func TestConfigFactoryRequiresDatabase(t *testing.T) {
	t.Setenv("DB_ENABLED", "false")
	svc, cleanup, err := ConfigFactory(context.Background(), false)
	require.ErrorIs(t, err, errDBRequired)
	assert.Nil(t, svc)
	assert.Nil(t, cleanup)

	root := NewRootCommand(ConfigFactory)
	root.SetArgs([]string{"goal", "450"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	require.ErrorIs(t, root.Execute(), errDBRequired)
}
