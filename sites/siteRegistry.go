package sites

import (
	"tankobon/downloader"
	"tankobon/models"
)

// init() is called automatically when the package is imported
// This registers every source adapter with the downloader registry
func init() {
	downloader.RegisterSource(models.SourceMangaDex, NewMangadexSite)
	downloader.RegisterSource(models.SourceManhuaus, NewManhuausSite)
	downloader.RegisterSource(models.SourceYakshascans, NewYakshascansSite)
	downloader.RegisterSource(models.SourceAsura, NewAsuraSite)
	downloader.RegisterSource(models.SourceKunmanga, NewKunmangaSite)
	downloader.RegisterSource(models.SourceToonily, NewToonilySite)
	downloader.RegisterSource(models.SourceMangahere, NewMangahereSite)
	downloader.RegisterSource(models.SourceMangapill, NewMangapillSite)
	downloader.RegisterSource(models.SourceBato, NewBatoSite)
	downloader.RegisterSource(models.SourceWeebcentral, NewWeebcentralSite)

	// Toongod keeps its selector but has no adapter; requests for it are
	// rejected as an invalid source.
}
