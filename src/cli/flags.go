package cli

func (c *RootCommand) initFlags() {
	c.PersistentFlags().StringVarP(
		&c.Options.ConfigPath,
		"config",
		"c",
		".",
		"path to the directory with the .env config file",
	)
	c.PersistentFlags().StringVarP(
		&c.Options.DumpPath,
		"dump",
		"d",
		"",
		"file to write the final lock-system dump to (stdout if empty)",
	)
}
