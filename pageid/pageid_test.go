package pageid

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name         string
		fileNo       uint32
		offsetInFile uint32
	}{
		{name: "zero values", fileNo: 0, offsetInFile: 0},
		{name: "typical", fileNo: 3, offsetInFile: 4095},
		{name: "max offset", fileNo: 1, offsetInFile: 0xffffffff},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.fileNo, tt.offsetInFile)
			if got := p.FileNo(); got != tt.fileNo {
				t.Errorf("FileNo() = %d, want %d", got, tt.fileNo)
			}
			if got := p.OffsetInFile(); got != tt.offsetInFile {
				t.Errorf("OffsetInFile() = %d, want %d", got, tt.offsetInFile)
			}
			if !p.Valid() {
				t.Errorf("Valid() = false, want true")
			}
		})
	}
}

func TestInvalid(t *testing.T) {
	if Invalid.Valid() {
		t.Errorf("Invalid.Valid() = true, want false")
	}
}

func TestShardHash_Deterministic(t *testing.T) {
	p := New(2, 7)
	if p.ShardHash() != p.ShardHash() {
		t.Errorf("ShardHash() is not deterministic for the same PageID")
	}
}

func TestShardHash_SpreadsAdjacentIDs(t *testing.T) {
	// Adjacent page ids (the common case: sequential allocation) should
	// not collapse onto the same shard hash, or the mapping table's
	// sharding would be useless under sequential scans.
	seen := make(map[uint64]bool)
	for i := uint32(0); i < 8; i++ {
		h := New(0, i).ShardHash()
		seen[h] = true
	}
	if len(seen) != 8 {
		t.Errorf("ShardHash() produced only %d distinct values for 8 sequential ids", len(seen))
	}
}
