package logbuffer

// RotateLog advances the active term after the term identified by
// currentTermCount and currentTermID has been exhausted. The next partition
// is claimed for currentTermID+1 and the active term count is moved forward
// with compare-and-swap, so when several callers race on the same exhausted
// term only one of them rotates. It returns the post-rotation term id and
// whether this call performed the rotation.
//
// Rotation never appends data; the caller must retry its offer.
func RotateLog(m *LogMetadata, currentTermCount, currentTermID int32) (int32, bool) {
	nextTermID := currentTermID + 1
	nextTermCount := currentTermCount + 1
	nextIndex := IndexByTermCount(nextTermCount)
	expectedTermID := nextTermID - PartitionCount

	for {
		rawTail := m.RawTail(nextIndex)
		if TermID(rawTail) != expectedTermID {
			break
		}
		if m.CompareAndSetRawTail(nextIndex, rawTail, PackTail(nextTermID, 0)) {
			break
		}
	}

	return nextTermID, m.CompareAndSetActiveTermCount(currentTermCount, nextTermCount)
}
