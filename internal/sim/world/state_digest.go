package world

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"phasecraft.ai/internal/sim/capture"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes everything a replay must reproduce, in a fixed order.
func (w *World) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	w.digestBlocks(h, &tmp)
	for _, e := range w.Entities() {
		digestWriteString(h, &tmp, e.id)
		digestWriteString(h, &tmp, e.typ)
		digestWritePos(h, &tmp, e.Pos)
		digestWriteI64(h, &tmp, int64(e.Health))
		h.Write([]byte{boolByte(e.living), boolByte(e.dead)})
		digestWriteString(h, &tmp, string(e.block))
	}
	for _, it := range w.Items() {
		digestWriteString(h, &tmp, it.ID)
		digestWriteString(h, &tmp, it.Stack.Item)
		digestWriteI64(h, &tmp, int64(it.Stack.Count))
		digestWritePos(h, &tmp, it.Pos)
	}
	w.digestSlots(h, &tmp)
	for _, p := range w.Players() {
		digestWriteString(h, &tmp, p.Name)
		digestWritePos(h, &tmp, p.Pos)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (w *World) digestBlocks(h hashWriter, tmp *[8]byte) {
	keys := make([]capture.Pos, 0, len(w.blocks))
	for p := range w.blocks {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return posLess(keys[i], keys[j]) })
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, p := range keys {
		digestWritePos(h, tmp, p)
		digestWriteString(h, tmp, string(w.blocks[p]))
	}
}

func (w *World) digestSlots(h hashWriter, tmp *[8]byte) {
	keys := make([]capture.SlotKey, 0, len(w.slots))
	for k := range w.slots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Inventory != keys[j].Inventory {
			return keys[i].Inventory < keys[j].Inventory
		}
		return keys[i].Slot < keys[j].Slot
	})
	digestWriteU64(h, tmp, uint64(len(keys)))
	for _, k := range keys {
		s := w.slots[k]
		digestWriteString(h, tmp, k.Inventory)
		digestWriteI64(h, tmp, int64(k.Slot))
		digestWriteString(h, tmp, s.Item)
		digestWriteI64(h, tmp, int64(s.Count))
	}
}

func posLess(a, b capture.Pos) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func digestWritePos(h hashWriter, tmp *[8]byte, p capture.Pos) {
	digestWriteI64(h, tmp, int64(p.X))
	digestWriteI64(h, tmp, int64(p.Y))
	digestWriteI64(h, tmp, int64(p.Z))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
