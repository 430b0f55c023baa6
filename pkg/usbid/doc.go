// Package usbid resolves vendor, product and class codes to the names
// published in the usb.ids database.
//
// A Database is loaded once, either from the first readable file among its
// search paths or from any io.Reader:
//
//	db := usbid.New()
//	db.Load()
//	fmt.Println(db.Vendor(0x1209), db.Product(0x1209, 0x0001))
//	fmt.Println(db.Class(0x03, 0x01, 0x01))
//
// Lookups of unknown codes, or on a database whose file was not found,
// return the empty string. All methods are safe for concurrent use.
package usbid
