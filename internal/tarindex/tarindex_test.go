package tarindex

import (
	"archive/tar"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/cro3-sub001/internal/errkind"
)

type fileSpec struct {
	name string
	body string
}

func buildTar(t *testing.T, files []fileSpec) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: f.name,
			Mode: 0o644,
			Size: int64(len(f.body)),
		}))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func listAll(t *testing.T, raw []byte) []MemberInfo {
	t.Helper()
	var out []MemberInfo
	require.NoError(t, List(bytes.NewReader(raw), func(m MemberInfo) error {
		out = append(out, m)
		return nil
	}))
	return out
}

func TestList_OffsetsLocateContent(t *testing.T) {
	files := []fileSpec{
		{"dir/a.txt", "hello world"},
		{"dir/b.bin", strings.Repeat("Z", 513)}, // spans two content blocks
		{"empty", ""},
	}
	raw := buildTar(t, files)
	members := listAll(t, raw)
	require.Len(t, members, 3)

	for i, m := range members {
		assert.Equal(t, files[i].name, m.Name)
		assert.Equal(t, int64(len(files[i].body)), m.Size)
		got := raw[m.ContentStart : m.ContentStart+m.Size]
		assert.Equal(t, files[i].body, string(got), "member %s content mismatch", m.Name)
	}
}

func TestList_RecordInvariants(t *testing.T) {
	raw := buildTar(t, []fileSpec{
		{"one", "x"},
		{"two", strings.Repeat("y", 512)},
		{"three", strings.Repeat("q", 1000)},
	})
	members := listAll(t, raw)

	var next int64
	for _, m := range members {
		assert.Zero(t, m.RecordSize%BlockSize, "record size must be block aligned")
		assert.Equal(t, next, m.RecordStart, "records must tile the archive with no gaps")
		assert.Equal(t, m.RecordStart+BlockSize, m.ContentStart, "plain ustar member has one header block")
		assert.GreaterOrEqual(t, m.RecordSize-(m.ContentStart-m.RecordStart), m.Size)
		next = m.RecordStart + m.RecordSize
	}
	// only block-aligned trailing padding may follow the last record
	assert.LessOrEqual(t, next, int64(len(raw)))
	assert.Zero(t, (int64(len(raw))-next)%BlockSize)
}

func TestList_LongNamesKeepRecordsContiguous(t *testing.T) {
	long := strings.Repeat("verylongdirectoryname/", 12) + "file.txt" // forces PAX/GNU extension
	raw := buildTar(t, []fileSpec{
		{"short.txt", "abc"},
		{long, "payload"},
		{"after.txt", "tail"},
	})
	members := listAll(t, raw)
	require.Len(t, members, 3)

	var next int64
	for _, m := range members {
		assert.Equal(t, next, m.RecordStart)
		next = m.RecordStart + m.RecordSize
	}

	// extension headers belong to the member record, so content sits
	// more than one block past the record start
	assert.Greater(t, members[1].ContentStart-members[1].RecordStart, int64(BlockSize))
	assert.Equal(t, "payload", string(raw[members[1].ContentStart:members[1].ContentStart+members[1].Size]))
}

func TestList_NotATarStream(t *testing.T) {
	err := List(strings.NewReader("definitely not a tar container, far too short"), func(MemberInfo) error {
		t.Fatal("emit must not be called for garbage input")
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, errkind.KindFormat, errkind.KindOf(err))
}

func TestList_EmitErrorStopsScan(t *testing.T) {
	raw := buildTar(t, []fileSpec{{"a", "1"}, {"b", "2"}, {"c", "3"}})
	stop := errkind.New(errkind.KindUnknown, "stop")
	count := 0
	err := List(bytes.NewReader(raw), func(MemberInfo) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestEscapeName_CommaRoundTrip(t *testing.T) {
	escaped := EscapeName("a,b.txt")
	assert.Equal(t, "a%2Cb.txt", escaped)

	back, err := UnescapeName(escaped)
	require.NoError(t, err)
	assert.Equal(t, "a,b.txt", back)
}

func TestEscapeName_PreservesSlashes(t *testing.T) {
	assert.Equal(t, "path/to/file", EscapeName("path/to/file"))
}

func TestEncodeDecodeRow(t *testing.T) {
	m := MemberInfo{
		Name:         "autotest/client,tests/sleeptest.py",
		RecordStart:  1024,
		RecordSize:   1536,
		ContentStart: 1536,
		Size:         987,
	}
	row := EncodeRow(m)
	assert.Equal(t, "autotest/client%2Ctests/sleeptest.py,1024,1536,1536,987\n", row)

	got, err := DecodeRow(row)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestDecodeRow_Malformed(t *testing.T) {
	for _, line := range []string{
		"",
		"name,1,2,3",               // too few fields
		"name,1,2,3,4,5",           // unescaped comma makes too many fields
		"name,one,2,3,4",           // non-numeric field
		"bad%zzname,1,2,3,4",       // broken percent escape
		"name,1,2,3,notanumber\n",  // non-numeric trailing field
	} {
		_, err := DecodeRow(line)
		require.Error(t, err, "line %q should fail", line)
		assert.Equal(t, errkind.KindFormat, errkind.KindOf(err), "line %q", line)
	}
}
