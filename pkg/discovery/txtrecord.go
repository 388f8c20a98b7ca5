package discovery

import (
	"fmt"
	"sort"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeInstrumentTXT creates the TXT records advertised for a device.
func EncodeInstrumentTXT(info *InstrumentInfo) TXTRecordMap {
	txt := make(TXTRecordMap)

	// Required fields
	txt[TXTKeyDevice] = info.Device
	txt[TXTKeyManufacturer] = info.Manufacturer
	txt[TXTKeyModel] = info.Model

	// Optional fields
	if info.Serial != "" {
		txt[TXTKeySerial] = info.Serial
	}

	return txt
}

// DecodeInstrumentTXT parses the TXT records of an advertised device.
// Only the device name is required; instruments advertised by other
// implementations often omit the rest.
func DecodeInstrumentTXT(txt TXTRecordMap) (*InstrumentInfo, error) {
	info := &InstrumentInfo{}

	var ok bool
	info.Device, ok = txt[TXTKeyDevice]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDevice)
	}
	if info.Device == "" {
		return nil, fmt.Errorf("%w: empty device name", ErrInvalidTXTRecord)
	}

	info.Manufacturer = txt[TXTKeyManufacturer]
	info.Model = txt[TXTKeyModel]
	info.Serial = txt[TXTKeySerial]

	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to a slice of "key=value"
// strings sorted by key.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses a slice of "key=value" strings into a TXTRecordMap.
// Keys are matched case-insensitively as DNS-SD requires.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		parts := strings.SplitN(s, "=", 2)
		key := strings.ToLower(parts[0])
		if key == "" {
			continue
		}
		if len(parts) == 2 {
			txt[key] = parts[1]
		} else {
			// Key without value (boolean flag)
			txt[key] = ""
		}
	}
	return txt
}

// ValidateInstrumentInfo checks that info can be advertised.
func ValidateInstrumentInfo(info *InstrumentInfo) error {
	if info.Device == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyDevice)
	}
	if info.Port == 0 {
		return ErrInvalidPort
	}
	if err := ValidateInstanceName(info.Instance()); err != nil {
		return err
	}
	for k, v := range EncodeInstrumentTXT(info) {
		if len(k)+1+len(v) > MaxTXTValueLen {
			return fmt.Errorf("%w: %s too long", ErrInvalidTXTRecord, k)
		}
	}
	return nil
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInstanceNameTooLong)
	}
	if len(name) > MaxInstanceNameLen {
		return ErrInstanceNameTooLong
	}
	return nil
}
