package validation

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Emitter receives validated payloads discovered while walking a
// certificate tree (§4.2.3).
type Emitter interface {
	ROA(prefix netip.Prefix, maxLength uint8, asn uint32)
	RouterKey(asn uint32, ski [20]byte, spki []byte)
}

// Tree traverses the certificate tree rooted at the object fetched for
// a TAL, emitting validated ROAs and router keys. X.509/CMS parsing
// and signature verification are out of scope for this repo (§1); Tree
// is the seam where a real implementation plugs in.
type Tree interface {
	Walk(ctx context.Context, rootPath string, emit Emitter) error
}

// NullTree is a Tree that treats every fixture file under rootPath as
// pre-validated: ".roa"/".csv" files list prefix,maxLength,asn rows,
// ".json" files use the Routinator-style {"roas":[...]} document. It
// exists for tests and for operators who run this daemon behind an
// upstream that has already performed RPKI validation (e.g. a second
// relying-party instance feeding a trusted, pre-checked cache) — it
// performs no cryptographic verification of its own.
type NullTree struct{}

func (NullTree) Walk(ctx context.Context, rootPath string, emit Emitter) error {
	info, err := os.Stat(rootPath)
	if err != nil {
		return fmt.Errorf("validation: root certificate unavailable: %w", err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(rootPath)
		if err != nil {
			return fmt.Errorf("validation: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, filepath.Join(rootPath, e.Name()))
			}
		}
	} else {
		files = []string{rootPath}
	}

	for _, f := range files {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// a descendant failure must not abort the whole tree (§1, §7
		// "Transient data errors"); only the root is fatal, and the
		// root was already confirmed to exist above.
		if err := walkFile(f, emit); err != nil {
			continue
		}
	}

	return nil
}

func walkFile(path string, emit Emitter) error {
	switch {
	case strings.HasSuffix(path, ".json"):
		return walkJSON(path, emit)
	case strings.HasSuffix(path, ".csv"), strings.HasSuffix(path, ".roa"):
		return walkCSV(path, emit)
	default:
		return fmt.Errorf("validation: unrecognized fixture %s", path)
	}
}

func walkJSON(path string, emit Emitter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var doc struct {
		ROAs []struct {
			Prefix    string `json:"prefix"`
			MaxLength int    `json:"maxLength"`
			ASN       any    `json:"asn"`
		} `json:"roas"`
	}
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return err
	}

	for _, r := range doc.ROAs {
		prefix, err := netip.ParsePrefix(r.Prefix)
		if err != nil {
			continue
		}
		asn, ok := parseASN(r.ASN)
		if !ok {
			continue
		}
		emit.ROA(prefix, uint8(r.MaxLength), asn)
	}
	return nil
}

func walkCSV(path string, emit Emitter) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return err
	}

	for i, row := range rows {
		if len(row) < 3 {
			continue
		}
		if i == 0 && strings.Contains(strings.ToLower(row[0]), "prefix") {
			continue // header
		}

		prefix, err := netip.ParsePrefix(strings.TrimSpace(row[0]))
		if err != nil {
			continue
		}
		maxLen, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		asnStr := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(row[2])), "as")
		asn, err := strconv.ParseUint(asnStr, 10, 32)
		if err != nil {
			continue
		}
		emit.ROA(prefix, uint8(maxLen), uint32(asn))
	}
	return nil
}

func parseASN(v any) (uint32, bool) {
	switch t := v.(type) {
	case string:
		t = strings.TrimPrefix(strings.ToLower(t), "as")
		n, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return 0, false
		}
		return uint32(n), true
	case float64:
		return uint32(t), true
	default:
		return 0, false
	}
}
