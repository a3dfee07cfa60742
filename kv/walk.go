package kv

import "bytes"

// Walk iterates table rows from start (or the first row when start is
// nil) until f returns false or the table is exhausted.
func Walk(tx Tx, table string, start []byte, f func(k, v []byte) (bool, error)) error {
	cursor, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer cursor.Close()
	k, v, err := cursor.Seek(start)
	for ; k != nil; k, v, err = cursor.Next() {
		if err != nil {
			return err
		}
		ok, err := f(k, v)
		if err != nil || !ok {
			return err
		}
	}
	return err
}

// WalkRange iterates rows with from <= key < to.
func WalkRange(tx Tx, table string, from, to []byte, f func(k, v []byte) (bool, error)) error {
	return Walk(tx, table, from, func(k, v []byte) (bool, error) {
		if to != nil && bytes.Compare(k, to) >= 0 {
			return false, nil
		}
		return f(k, v)
	})
}

// WalkBack iterates rows in descending order from start (or the last
// row when start is nil).
func WalkBack(tx Tx, table string, start []byte, f func(k, v []byte) (bool, error)) error {
	cursor, err := tx.Cursor(table)
	if err != nil {
		return err
	}
	defer cursor.Close()
	var k, v []byte
	if start == nil {
		k, v, err = cursor.Last()
	} else {
		k, v, err = cursor.Seek(start)
		if err == nil && k == nil {
			k, v, err = cursor.Last()
		} else if err == nil && bytes.Compare(k, start) > 0 {
			k, v, err = cursor.Prev()
		}
	}
	for ; k != nil; k, v, err = cursor.Prev() {
		if err != nil {
			return err
		}
		ok, err := f(k, v)
		if err != nil || !ok {
			return err
		}
	}
	return err
}
