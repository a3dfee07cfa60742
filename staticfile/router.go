package staticfile

// The router gives every read one logical totality over the two
// backends: records at or below a segment's static head come from the
// segment file, everything above from the transactional store.

// GetWithStaticFileOrDatabase reads ordinal id from seg, falling back
// to dbRead on a static-file miss. A value present in neither backend
// is reported as (nil, nil): absence, not an error.
func (p *Provider) GetWithStaticFileOrDatabase(seg Segment, id uint64, dbRead func(id uint64) ([]byte, error)) ([]byte, error) {
	v, found, err := p.Get(seg, id)
	if err != nil {
		return nil, err
	}
	if found {
		return v, nil
	}
	return dbRead(id)
}

// GetRangeWithStaticFileOrDatabase reads ordinals [from, to) from seg,
// splicing the static prefix and the database suffix. pred may stop the
// walk early; both backends honor it identically. dbRead must return
// values for [from, to) in order; it is not given pred, and the router
// applies pred to its results.
func (p *Provider) GetRangeWithStaticFileOrDatabase(
	seg Segment, from, to uint64,
	pred func(id uint64, v []byte) bool,
	dbRead func(from, to uint64) ([][]byte, error),
) ([][]byte, error) {
	if from >= to {
		return nil, nil
	}
	var out [][]byte

	staticEnd := from // first ordinal NOT served from the static file
	if highest, ok := p.HighestBlock(seg); ok && highest+1 > from {
		staticEnd = highest + 1
		if staticEnd > to {
			staticEnd = to
		}
	}
	for id := from; id < staticEnd; id++ {
		v, found, err := p.Get(seg, id)
		if err != nil {
			return nil, err
		}
		if !found {
			break
		}
		if pred != nil && !pred(id, v) {
			return out, nil
		}
		out = append(out, v)
	}

	if staticEnd < to {
		rest, err := dbRead(staticEnd, to)
		if err != nil {
			return nil, err
		}
		for i, v := range rest {
			if pred != nil && !pred(staticEnd+uint64(i), v) {
				return out, nil
			}
			out = append(out, v)
		}
	}
	return out, nil
}
