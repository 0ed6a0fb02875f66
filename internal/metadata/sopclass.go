package metadata

// Image storage SOP Class UIDs from DICOM Part 4, Annex B. Instances whose
// SOP class is not listed here must carry pixel-rows metadata to be
// considered for hanging.
var imageSOPClasses = map[string]bool{
	"1.2.840.10008.5.1.4.1.1.1":        true, // Computed Radiography Image Storage
	"1.2.840.10008.5.1.4.1.1.1.1":      true, // Digital X-Ray Image Storage - For Presentation
	"1.2.840.10008.5.1.4.1.1.1.1.1":    true, // Digital X-Ray Image Storage - For Processing
	"1.2.840.10008.5.1.4.1.1.1.2":      true, // Digital Mammography X-Ray Image Storage - For Presentation
	"1.2.840.10008.5.1.4.1.1.1.2.1":    true, // Digital Mammography X-Ray Image Storage - For Processing
	"1.2.840.10008.5.1.4.1.1.1.3":      true, // Digital Intra-Oral X-Ray Image Storage - For Presentation
	"1.2.840.10008.5.1.4.1.1.1.3.1":    true, // Digital Intra-Oral X-Ray Image Storage - For Processing
	"1.2.840.10008.5.1.4.1.1.2":        true, // CT Image Storage
	"1.2.840.10008.5.1.4.1.1.2.1":      true, // Enhanced CT Image Storage
	"1.2.840.10008.5.1.4.1.1.2.2":      true, // Legacy Converted Enhanced CT Image Storage
	"1.2.840.10008.5.1.4.1.1.3.1":      true, // Ultrasound Multi-frame Image Storage
	"1.2.840.10008.5.1.4.1.1.4":        true, // MR Image Storage
	"1.2.840.10008.5.1.4.1.1.4.1":      true, // Enhanced MR Image Storage
	"1.2.840.10008.5.1.4.1.1.4.3":      true, // Enhanced MR Color Image Storage
	"1.2.840.10008.5.1.4.1.1.4.4":      true, // Legacy Converted Enhanced MR Image Storage
	"1.2.840.10008.5.1.4.1.1.6.1":      true, // Ultrasound Image Storage
	"1.2.840.10008.5.1.4.1.1.6.2":      true, // Enhanced US Volume Storage
	"1.2.840.10008.5.1.4.1.1.7":        true, // Secondary Capture Image Storage
	"1.2.840.10008.5.1.4.1.1.7.1":      true, // Multi-frame Single Bit SC Image Storage
	"1.2.840.10008.5.1.4.1.1.7.2":      true, // Multi-frame Grayscale Byte SC Image Storage
	"1.2.840.10008.5.1.4.1.1.7.3":      true, // Multi-frame Grayscale Word SC Image Storage
	"1.2.840.10008.5.1.4.1.1.7.4":      true, // Multi-frame True Color SC Image Storage
	"1.2.840.10008.5.1.4.1.1.12.1":     true, // X-Ray Angiographic Image Storage
	"1.2.840.10008.5.1.4.1.1.12.1.1":   true, // Enhanced XA Image Storage
	"1.2.840.10008.5.1.4.1.1.12.2":     true, // X-Ray Radiofluoroscopic Image Storage
	"1.2.840.10008.5.1.4.1.1.12.2.1":   true, // Enhanced XRF Image Storage
	"1.2.840.10008.5.1.4.1.1.13.1.1":   true, // X-Ray 3D Angiographic Image Storage
	"1.2.840.10008.5.1.4.1.1.13.1.2":   true, // X-Ray 3D Craniofacial Image Storage
	"1.2.840.10008.5.1.4.1.1.13.1.3":   true, // Breast Tomosynthesis Image Storage
	"1.2.840.10008.5.1.4.1.1.14.1":     true, // IVOCT Image Storage - For Presentation
	"1.2.840.10008.5.1.4.1.1.14.2":     true, // IVOCT Image Storage - For Processing
	"1.2.840.10008.5.1.4.1.1.20":       true, // Nuclear Medicine Image Storage
	"1.2.840.10008.5.1.4.1.1.128":      true, // PET Image Storage
	"1.2.840.10008.5.1.4.1.1.128.1":    true, // Legacy Converted Enhanced PET Image Storage
	"1.2.840.10008.5.1.4.1.1.130":      true, // Enhanced PET Image Storage
	"1.2.840.10008.5.1.4.1.1.481.1":    true, // RT Image Storage
	"1.2.840.10008.5.1.4.1.1.77.1.4":   true, // VL Photographic Image Storage
	"1.2.840.10008.5.1.4.1.1.77.1.5.1": true, // Ophthalmic Photography 8 Bit Image Storage
	"1.2.840.10008.5.1.4.1.1.77.1.5.2": true, // Ophthalmic Photography 16 Bit Image Storage
}

// IsImageSOPClass reports whether the UID names a recognized image storage
// SOP class.
func IsImageSOPClass(uid string) bool {
	return imageSOPClasses[uid]
}
