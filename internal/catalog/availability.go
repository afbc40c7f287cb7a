package catalog

// Resolver availability murni: terima data polos, balikin angka. Tanpa side effect,
// aman dipanggil konkuren; konsistensi read-after-write jadi urusan repository
// (baca state committed terbaru sebelum manggil fungsi di sini).

// ProductAvailable: produk tanpa varian pakai ledger-nya sendiri. Begitu punya
// varian, availability = total available semua varian; field stok produk sendiri
// diabaikan (field legacy).
func ProductAvailable(p Product, variants []Variant) int {
	if len(variants) == 0 {
		return p.Stock.Available()
	}
	total := 0
	for _, v := range variants {
		total += v.Stock.Available()
	}
	return total
}

func VariantAvailable(v Variant) int {
	return v.Stock.Available()
}

// PackAvailable menghitung availability pack dari stok parent-nya.
//
// Pack langsung dari produk: sama dengan available mentah parent, pack di kasus
// ini cuma presentasi lain dari pool stok yang sama, tidak dibagi pack size.
// Pack dari varian: floor(available parent / pack size).
// Asimetri ini mengikuti perilaku yang ada; jangan "dibetulkan" diam-diam tanpa
// keputusan product owner. PackDemand dijaga konsisten dengan aturan ini supaya
// reservasi tidak pernah melewati available.
func PackAvailable(p Pack, parent Stock) int {
	if p.PackSize < 1 {
		return 0
	}
	switch p.Source.Kind {
	case SourceProduct:
		return parent.Available()
	case SourceVariant:
		return parent.Available() / p.PackSize
	default:
		return 0
	}
}

// PackDemand: berapa unit backing yang dikonsumsi qty pack.
// Cermin dari PackAvailable: kasus direct 1 pack = 1 unit pool, kasus varian
// 1 pack = PackSize unit.
func PackDemand(p Pack, qty int) int {
	if p.Source.Kind == SourceVariant {
		return qty * p.PackSize
	}
	return qty
}
