package debuginfo

// SignExtend interprets the low size bytes of raw as a two's complement
// integer. Sizes other than 1, 2 and 4 return raw unchanged.
func SignExtend(raw, size uint64) int64 {
	switch size {
	case 1:
		return int64(int8(raw))
	case 2:
		return int64(int16(raw))
	case 4:
		return int64(int32(raw))
	}
	return int64(raw)
}

// Truncate keeps the low size bytes of raw.
func Truncate(raw, size uint64) uint64 {
	if size == 0 || size >= 8 {
		return raw
	}
	return raw & (1<<(8*size) - 1)
}
