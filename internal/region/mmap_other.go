//go:build !linux

package region

// mapPopulateFlag is 0 on platforms without MAP_POPULATE; the mapping is
// still MAP_SHARED, just not prefaulted.
const mapPopulateFlag = 0
