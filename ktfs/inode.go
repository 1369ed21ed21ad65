package ktfs

import "encoding/binary"

// Inode is the in-memory form of one on-disk inode record.
type Inode struct {
	Size      uint32
	Block     [NumDirect]uint32
	Indirect  uint32
	Dindirect [NumDindirect]uint32
}

// EncodeInode packs ino into a fresh InodeSize-byte record.
func EncodeInode(ino *Inode) [InodeSize]byte {
	var buf [InodeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], ino.Size)
	for i, b := range ino.Block {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], b)
	}
	binary.LittleEndian.PutUint32(buf[20:24], ino.Indirect)
	binary.LittleEndian.PutUint32(buf[24:28], ino.Dindirect[0])
	binary.LittleEndian.PutUint32(buf[28:32], ino.Dindirect[1])
	return buf
}

// DecodeInode unpacks an Inode from the first InodeSize bytes of buf.
func DecodeInode(buf []byte) Inode {
	var ino Inode
	ino.Size = binary.LittleEndian.Uint32(buf[0:4])
	for i := range ino.Block {
		ino.Block[i] = binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i])
	}
	ino.Indirect = binary.LittleEndian.Uint32(buf[20:24])
	ino.Dindirect[0] = binary.LittleEndian.Uint32(buf[24:28])
	ino.Dindirect[1] = binary.LittleEndian.Uint32(buf[28:32])
	return ino
}

// DirEntry is the in-memory form of one directory entry.
type DirEntry struct {
	Inode uint16
	Name  [MaxNameLen + 1]byte // NUL-padded
}

// EncodeDirEntry packs de into a fresh DirEntSize-byte record.
func EncodeDirEntry(de *DirEntry) [DirEntSize]byte {
	var buf [DirEntSize]byte
	binary.LittleEndian.PutUint16(buf[0:2], de.Inode)
	copy(buf[2:], de.Name[:])
	return buf
}

// DecodeDirEntry unpacks a DirEntry from the first DirEntSize bytes of buf.
func DecodeDirEntry(buf []byte) DirEntry {
	var de DirEntry
	de.Inode = binary.LittleEndian.Uint16(buf[0:2])
	copy(de.Name[:], buf[2:DirEntSize])
	return de
}

// nameString returns the NUL-terminated portion of the name field.
func (de *DirEntry) nameString() string {
	for i, b := range de.Name {
		if b == 0 {
			return string(de.Name[:i])
		}
	}
	return string(de.Name[:])
}

func makeDirEntry(inode uint16, name string) DirEntry {
	var de DirEntry
	de.Inode = inode
	copy(de.Name[:], name)
	return de
}
