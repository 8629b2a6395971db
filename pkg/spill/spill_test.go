package spill

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpillAppendAndRange(t *testing.T) {
	s, err := New[int](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	expected := []int{100, 200, 300}
	for _, v := range expected {
		require.NoError(t, s.Append(v))
	}
	require.Equal(t, uint64(3), s.Len())

	var collected []int
	err = s.Range(func(index uint64, item int) error {
		collected = append(collected, item)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, expected, collected)
}

func TestSpillAppendBatch(t *testing.T) {
	s, err := New[string](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendBatch([]string{"a", "b", "c"}))
	require.NoError(t, s.Append("d"))
	require.Equal(t, uint64(4), s.Len())

	var got []string
	require.NoError(t, s.Range(func(_ uint64, item string) error {
		got = append(got, item)
		return nil
	}))
	require.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestSpillEmptyRange(t *testing.T) {
	s, err := New[int](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	count := 0
	require.NoError(t, s.Range(func(uint64, int) error {
		count++
		return nil
	}))
	require.Zero(t, count)
}

func TestSpillRangeCallbackErrorStops(t *testing.T) {
	s, err := New[int](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.AppendBatch([]int{1, 2, 3}))

	wantErr := errors.New("stop here")
	count := 0
	err = s.Range(func(index uint64, _ int) error {
		count++
		if index == 1 {
			return wantErr
		}
		return nil
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 2, count)
}

func TestSpillStructRecordsDoNotBleed(t *testing.T) {
	type record struct {
		File string
		Line int
		Test string
	}

	s, err := New[record](t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	// The second record's zero fields must come back zero, not carry the
	// first record's values.
	require.NoError(t, s.Append(record{File: "a.go", Line: 10, Test: "TestA"}))
	require.NoError(t, s.Append(record{File: "b.go"}))

	var got []record
	require.NoError(t, s.Range(func(_ uint64, item record) error {
		got = append(got, item)
		return nil
	}))
	require.Len(t, got, 2)
	require.Equal(t, record{File: "a.go", Line: 10, Test: "TestA"}, got[0])
	require.Equal(t, record{File: "b.go"}, got[1])
}

func TestSpillCloseRemovesFile(t *testing.T) {
	s, err := New[int](t.TempDir())
	require.NoError(t, err)

	path := s.Path()
	require.NoError(t, s.Append(1))
	require.NoError(t, s.Close())

	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))

	require.NoError(t, s.Close())
	require.Error(t, s.Append(2))
}

func BenchmarkSpillAppend(b *testing.B) {
	s, err := New[int](b.TempDir())
	if err != nil {
		b.Fatalf("failed to create spill: %v", err)
	}
	defer s.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Append(i)
	}
}
