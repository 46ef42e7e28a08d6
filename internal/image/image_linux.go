//go:build linux

package image

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// list parses /proc/self/maps, Linux's portable substitute for macOS's dyld
// image list. Each named, executable-or-not mapping belonging to a given
// file is folded into one Image spanning from the lowest to the highest
// address mapped for that path, which is the address range a symbol
// resolver needs regardless of how many discontiguous segments (text, data,
// rodata) the loader split it into.
func list() ([]Image, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	order := make([]string, 0, 32)
	byPath := make(map[string]*Image, 32)

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.Fields(line)
		if len(fields) < 6 {
			continue
		}
		path := fields[len(fields)-1]
		if path == "" || strings.HasPrefix(path, "[") {
			continue
		}

		addrRange := fields[0]
		parts := strings.SplitN(addrRange, "-", 2)
		if len(parts) != 2 {
			continue
		}
		start, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(parts[1], 16, 64)
		if err != nil {
			continue
		}

		img, ok := byPath[path]
		if !ok {
			img = &Image{Path: path, Base: start, Size: end - start}
			byPath[path] = img
			order = append(order, path)
			continue
		}
		if start < img.Base {
			img.Size += img.Base - start
			img.Base = start
		}
		if end > img.Base+img.Size {
			img.Size = end - img.Base
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	images := make([]Image, 0, len(order))
	for _, p := range order {
		images = append(images, *byPath[p])
	}
	return images, nil
}
